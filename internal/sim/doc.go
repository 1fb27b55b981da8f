// Package sim provides in-memory implementations of the hal collaborator
// contracts. They record what the core asked of them so host runs and tests
// can observe behaviour without a board.
package sim
