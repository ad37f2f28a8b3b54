// Package icp implements 2D Iterative Closest Point registration with a
// uniform-scale term.
//
// Correspondences are found by brute force (O(n·m) per pass, no spatial
// index) and the rotation, scale and translation that best map scene onto
// model are recovered in closed form. Align drives the iteration and reports
// an explicit Result; numerical failure is returned as an error wrapping
// ErrNumericalFailure and never as NaN values.
//
// Every function here is a pure computation on its arguments. Concurrent
// calls on independent inputs need no synchronisation.
package icp
