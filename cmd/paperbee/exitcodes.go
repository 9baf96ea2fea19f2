package main

// Exit codes
const (
	ExitError       = 1 // Runtime failure (search, ledger, I/O)
	ExitConfigError = 2 // Missing or invalid configuration
)
