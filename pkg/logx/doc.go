// Package logx provides a thin structured logging layer over zerolog.
//
// It exists so components depend on a small, stable API (Logger + Field)
// while the daemon retains runtime control over sinks and level via Service.
package logx
