// Package gitops pushes work branches produced by pipeline stages to the
// configured remote using go-git, so the daemon does not depend on a git
// binary being installed.
package gitops
