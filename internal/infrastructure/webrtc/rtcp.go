package webrtc

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// rtcpSummary aggregates one batch of RTCP feedback about a local track.
type rtcpSummary struct {
	Reports      int
	FractionLost float64 // 0..1, averaged over reports
	Jitter       uint32  // RTP timestamp units, averaged
	RTT          time.Duration
	Nacks        int
	PLIs         int
	SenderReport *rtcp.SenderReport
}

func summarizeRTCP(packets []rtcp.Packet) rtcpSummary {
	var (
		summary   rtcpSummary
		totalLost uint32
		jitter    uint64
		rttTotal  time.Duration
		rttCount  int
	)

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				summary.Reports++
				totalLost += uint32(report.FractionLost)
				jitter += uint64(report.Jitter)
				if report.LastSenderReport != 0 && report.Delay != 0 {
					rttTotal += time.Duration(report.Delay) * time.Second / 65536
					rttCount++
				}
			}
		case *rtcp.SenderReport:
			summary.SenderReport = p
		case *rtcp.TransportLayerNack:
			summary.Nacks += len(p.Nacks)
		case *rtcp.PictureLossIndication:
			summary.PLIs++
		}
	}

	if summary.Reports > 0 {
		summary.FractionLost = float64(totalLost) / float64(summary.Reports) / 256.0
		summary.Jitter = uint32(jitter / uint64(summary.Reports))
	}
	if rttCount > 0 {
		summary.RTT = rttTotal / time.Duration(rttCount)
	}
	return summary
}

// drainSenderRTCP reads feedback for a local track until the sender stops.
func drainSenderRTCP(logger *zap.SugaredLogger, trackID string, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			logger.Debugw("sender RTCP loop stopped", "track_id", trackID, "error", err)
			return
		}

		summary := summarizeRTCP(packets)
		if summary.PLIs > 0 {
			logger.Debugw("remote requested keyframe", "track_id", trackID, "pli", summary.PLIs)
		}
		if summary.Reports > 0 || summary.Nacks > 0 {
			logger.Debugw("link quality",
				"track_id", trackID,
				"fraction_lost", summary.FractionLost,
				"jitter", summary.Jitter,
				"rtt", summary.RTT,
				"nacks", summary.Nacks,
			)
		}
	}
}

// watchReceiverRTCP reads sender reports for a remote track.
func watchReceiverRTCP(logger *zap.SugaredLogger, trackID string, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			logger.Debugw("receiver RTCP loop stopped", "track_id", trackID, "error", err)
			return
		}

		if sr := summarizeRTCP(packets).SenderReport; sr != nil {
			logger.Debugw("received sender report",
				"track_id", trackID,
				"packet_count", sr.PacketCount,
				"octet_count", sr.OctetCount,
			)
		}
	}
}
