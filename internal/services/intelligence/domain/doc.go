// Package domain implements the delivery intelligence engine core.
//
// It turns raw shipment tracking snapshots into labeled, possibly censored
// outcome observations, fits Kaplan-Meier delivery-time survival curves per
// traffic segment (carrier, service tier, shipping zone, season), and blends
// a resolved curve with live risk signals into a per-shipment delivery
// probability estimate.
//
// The package is storage-free: persistence is reached only through the
// narrow CurveFinder and SnapshotReader interfaces its consumers satisfy.
// All classification and fitting functions are deterministic pure functions
// of their inputs so that recomputing curves over an unchanged record set
// yields identical output.
package domain
