// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package identity

import "context"

// CompanyCheck is the structured company identity submitted to the
// verification oracle.
type CompanyCheck struct {
	CompanyName        string `json:"companyname"`
	Website            string `json:"website,omitempty"`
	RegistrationNumber string `json:"registrationnumber,omitempty"`
	Industry           string `json:"industry"`
	Country            string `json:"country"`
	YearFounded        string `json:"yearfounded,omitempty"`
	Headquarters       string `json:"headquarters,omitempty"`
	ContactEmail       string `json:"contactemail,omitempty"`
	LinkedIn           string `json:"linkedin,omitempty"`
}

// VerificationResult is the oracle's advisory judgement of a company.
type VerificationResult struct {
	IsLegit        bool     `json:"islegit"`
	Confidence     float64  `json:"confidence"` // 0.0 - 1.0
	RedFlags       []string `json:"redflags,omitempty"`
	MatchedSources []string `json:"matchedsources,omitempty"`
	Explanation    string   `json:"explanation"`
}

// Oracle is the external verification collaborator. Its output is untrusted
// advisory input; a rejection marks a campaign for manual review but must
// never hard-block it on its own, since the oracle can be wrong.
type Oracle interface {
	VerifyCompany(ctx context.Context, c CompanyCheck) (*VerificationResult, error)
}

// NeedsReview returns whether an oracle result should route the campaign to
// manual review.
func NeedsReview(r *VerificationResult) bool {
	return r != nil && (!r.IsLegit || len(r.RedFlags) > 0)
}
