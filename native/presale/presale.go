// Package presale implements the staged token sale: a fixed sequence of priced
// stages with per-stage caps, multi-currency purchases settled through an
// external ledger, a time-gated claim of purchased tokens and the sweep of
// unsold allocation to the treasury.
package presale

// ModuleName identifies the presale module for pause guards and metrics.
const ModuleName = "presale"
