package model

// Address is the network address of a worker node. It is the unique
// key a worker is registered under.
type Address string

// JobID identifies a job submitted to the cluster.
type JobID int64

// SlotID identifies a slot. IDs are allocated per job and are unique
// within the owning job.
type SlotID int64
