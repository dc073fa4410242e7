package services

import (
	"time"

	"github.com/pion/webrtc/v3"
)

type nopMetrics struct{}

func (nopMetrics) PeerAdded()                                      {}
func (nopMetrics) PeerRemoved()                                    {}
func (nopMetrics) ObserveNegotiation(string, time.Duration, error) {}
func (nopMetrics) ICEStateChanged(webrtc.ICEConnectionState)       {}
func (nopMetrics) LocalCandidateForwarded()                        {}
func (nopMetrics) LocalCandidateDuplicate()                        {}
func (nopMetrics) RemoteCandidateApplied()                         {}
func (nopMetrics) RemoteCandidateQueued()                          {}
func (nopMetrics) RemoteCandidateFlushed(error)                    {}
