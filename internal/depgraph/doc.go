// Package depgraph validates and queries task dependency edges.
//
// An edge A -> B means "A depends on B" and is stored as B's id in
// A.Dependencies. The relation must stay acyclic: ValidateEdge rejects
// self-loops, edges to unknown tasks and any edge that would close a cycle.
// CanTransition gates moves into a terminal status on the status of each
// dependency.
//
// All functions are pure. They read the task snapshot they are given and
// never modify it.
package depgraph
