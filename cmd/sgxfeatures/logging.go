package main

import (
	"fmt"

	"github.com/apex/log"
	"github.com/leodido/sgxfeatures"
)

// loggingQuerier logs every CPUID query at debug level.
type loggingQuerier struct {
	q sgxfeatures.RegisterQuerier
}

func (l loggingQuerier) Query(leaf, subleaf uint32) sgxfeatures.RegisterSet {
	regs := l.q.Query(leaf, subleaf)
	log.WithFields(log.Fields{
		"leaf":    fmt.Sprintf("%#x", leaf),
		"subleaf": fmt.Sprintf("%#x", subleaf),
		"regs":    regs.String(),
	}).Debug("cpuid")
	return regs
}

// loggingMSRReader logs every MSR read at debug level.
type loggingMSRReader struct {
	r sgxfeatures.MSRReader
}

func (l loggingMSRReader) ReadMSR(address uint32, cpu int) (uint64, error) {
	v, err := l.r.ReadMSR(address, cpu)
	ctx := log.WithFields(log.Fields{
		"msr": fmt.Sprintf("%#x", address),
		"cpu": cpu,
	})
	if err != nil {
		ctx.WithError(err).Debug("rdmsr failed")
		return v, err
	}
	ctx.WithField("value", fmt.Sprintf("%#x", v)).Debug("rdmsr")
	return v, nil
}
