package main

import "time"

// Flag structs decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
	Output     string
}

// APIFlags select the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Output     string
}

type ServeFlags struct {
	ConfigPath string
	Listen     string
	// For tests: return once the server is up instead of waiting for a signal.
	NonBlocking bool
}

type StatusFlags struct {
	APIFlags
	ID    string
	Match string
}

type ReportsFlags struct {
	APIFlags
	Limit  int
	Follow bool
}

type AttachFlags struct {
	APIFlags
	ID       string
	HomeURL  string
	Recovery string
}

type DetachFlags struct {
	APIFlags
	ID string
}

type SignalFlags struct {
	APIFlags
	ID    string
	Kind  string
	URL   string
	Error string
	Hint  string
}
