// Package flows contains the orchestration logic behind every Engine operation.
//
// Each flow function (RunLogin, RunLoginWithLock, RunRefresh, RunLogout,
// RunValidate) takes a typed dependency struct of plain functions. The Engine
// binds those functions to the failure tracker, the distributed lock, the
// token issuer, metrics and audit, so flows can be tested with in-memory fakes.
//
// Flows hold no state between calls and never import the root package. Errors
// that callers see are injected through the dependency structs or classified
// as a failure kind that the Engine maps.
package flows
