package types

// Version is the canonical project version.
// The CLI, the relay event contract, and the archive record layout share
// this version per the lockstep versioning policy.
const Version = "0.3.0"

// ContractVersion is the version stamped on relay events and archive records.
const ContractVersion = Version
