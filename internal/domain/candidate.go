package domain

type CandidateType string

const (
	CandidateHost  CandidateType = "host"
	CandidateSrflx CandidateType = "srflx"
	CandidateRelay CandidateType = "relay"
	CandidatePrflx CandidateType = "prflx"
)

func ParseCandidateType(s string) (CandidateType, bool) {
	switch t := CandidateType(s); t {
	case CandidateHost, CandidateSrflx, CandidateRelay, CandidatePrflx:
		return t, true
	}
	return "", false
}

// IceCandidateMessage is a connectivity candidate as exchanged over signaling.
// Only Candidate is mandatory.
type IceCandidateMessage struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
	Port          *uint16
	Priority      *uint32
	Protocol      *string
	Type          *CandidateType
}
