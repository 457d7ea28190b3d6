package generator

import "strings"

// DefaultPolicyCodes are provider error codes that mean the prompt or its
// output was rejected by content policy.
var DefaultPolicyCodes = []string{
	"PUBLIC_ERROR_UNSAFE_GENERATION",
	"PUBLIC_ERROR_MINOR_INPUT_IMAGE",
	"PUBLIC_ERROR_PROMINENT_PEOPLE_FILTER_FAILED",
	"CONTENT_POLICY_VIOLATION",
}

// rejectionStatuses are raw statuses that always indicate a policy rejection.
var rejectionStatuses = map[string]bool{
	"FILTERED": true,
	"REJECTED": true,
}

// PolicyClassifier decides whether a failed operation was rejected by
// content policy. The decision uses error codes and statuses only.
type PolicyClassifier struct {
	codes map[string]bool
}

// NewPolicyClassifier creates a classifier for the given codes.
// An empty list selects DefaultPolicyCodes.
func NewPolicyClassifier(codes []string) *PolicyClassifier {
	if len(codes) == 0 {
		codes = DefaultPolicyCodes
	}
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			set[c] = true
		}
	}
	return &PolicyClassifier{codes: set}
}

// IsPolicyRejection reports whether a raw status/code pair is a rejection.
func (p *PolicyClassifier) IsPolicyRejection(rawStatus, code string) bool {
	if rejectionStatuses[strings.ToUpper(rawStatus)] {
		return true
	}
	return p.codes[strings.ToUpper(strings.TrimSpace(code))]
}

// Classify turns a failed raw response into a FAILED or SKIPPED result.
func (p *PolicyClassifier) Classify(rawStatus, code, msg string) PollResult {
	if p.IsPolicyRejection(rawStatus, code) {
		return Skipped(code, msg)
	}
	return Failed(code, msg)
}
