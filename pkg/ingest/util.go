package ingest

import (
	"errors"
	"strings"

	"github.com/twmb/franz-go/pkg/kerr"
)

// retriableKafkaErrors are broker-side conditions that clear up after
// a metadata refresh: stale leader/ISR info, a broker that just
// restarted, or a transient network blip. HandleKafkaError treats
// these as idle rather than fatal, so the merge scheduler's idle
// budget governs how long a plan waits for the cluster to settle.
var retriableKafkaErrors = map[error]bool{
	kerr.NotLeaderForPartition:   true,
	kerr.ReplicaNotAvailable:     true,
	kerr.UnknownLeaderEpoch:      true,
	kerr.LeaderNotAvailable:      true,
	kerr.BrokerNotAvailable:      true,
	kerr.UnknownTopicOrPartition: true,
	kerr.NetworkException:        true,
	kerr.NotCoordinator:          true,
}

// retriableSubstrings catches franz-go internal sentinel strings that
// are not kerr.Error values (e.g. "unknown broker" when a broker id
// disappears mid-request).
var retriableSubstrings = []string{
	"unknown broker",
	"the internal broker struct chosen to issue this request has died",
}

// HandleKafkaError classifies err as retriable (transient, worth
// waiting out) or not. refresh, if non-nil, is invoked when the
// classification implies the source's cached metadata is stale and
// should be refreshed before the next poll.
func HandleKafkaError(err error, refresh func()) (retriable bool) {
	if err == nil {
		return false
	}

	var kafkaErr *kerr.Error
	if errors.As(err, &kafkaErr) && retriableKafkaErrors[kafkaErr] {
		if refresh != nil {
			refresh()
		}
		return true
	}

	msg := err.Error()
	for _, sub := range retriableSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}

	return false
}
