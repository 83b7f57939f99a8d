// Package executor defines the contract that every pluggable unit of work
// (AI analysis steps, blockchain operations) must implement, along with the
// capability registry the coordinator resolves executors from.
package executor
