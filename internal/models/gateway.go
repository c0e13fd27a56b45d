package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BurnSubmission is the gateway's acknowledgement of a burn request.
type BurnSubmission struct {
	BurnRequestId string
}

// BurnStatus is the gateway's view of a submitted burn.
type BurnStatus struct {
	Hash      string
	Confirmed bool
}

// Attestation is the protocol's off-chain verdict that a burn occurred.
type Attestation struct {
	AttestationHash string
}

// MintSubmission is the gateway's acknowledgement of a mint request.
type MintSubmission struct {
	MintRequestId string
}

// MintStatus is the gateway's view of a submitted mint. FeeCharged carries the
// provider's final fee for the whole transfer once the mint confirms.
type MintStatus struct {
	Hash       string
	Confirmed  bool
	FeeCharged decimal.Decimal
}

// FeeScheduleEntry is the provider-published cost of one route.
type FeeScheduleEntry struct {
	SourceChain      string          `json:"source_chain"`
	DestinationChain string          `json:"destination_chain"`
	BaseFee          decimal.Decimal `json:"base_fee"`
	FastPremium      decimal.Decimal `json:"fast_premium"`
	StandardSeconds  int             `json:"standard_seconds"`
	FastSeconds      int             `json:"fast_seconds"`
}

// FeeSchedule is the provider's published fee table plus the fetch time used
// for TTL-based caching.
type FeeSchedule struct {
	Entries   []FeeScheduleEntry `json:"entries"`
	FetchedAt time.Time          `json:"-"`
}

// Route looks up the entry for a source/destination pair.
func (s *FeeSchedule) Route(source, destination string) (FeeScheduleEntry, bool) {
	for _, e := range s.Entries {
		if e.SourceChain == source && e.DestinationChain == destination {
			return e, true
		}
	}
	return FeeScheduleEntry{}, false
}
