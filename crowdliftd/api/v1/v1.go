// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package v1 defines the crowdliftd HTTP API.
package v1

import "time"

const (
	// APIVersion is the current API version.
	APIVersion = 1

	// APIRoute prefixes all routes.
	APIRoute = "/v1"

	// Campaign routes.
	RouteCampaignNew     = "/campaigns/new"
	RouteCampaigns       = "/campaigns"
	RouteCampaignDetails = "/campaigns/{id}"

	// Milestone proof routes.
	RouteProofSubmit = "/campaigns/{id}/milestones/{milestoneid}/proof"
	RouteProofJudge  = "/campaigns/{id}/milestones/{milestoneid}/judge"

	// Trading routes.
	RouteQuote     = "/quote"
	RoutePoolStats = "/pools/{symbol}"
)

// ErrorReply is returned for all failed requests.
type ErrorReply struct {
	Error string `json:"error"`
}

// ProofSite is the expected capture location of a milestone's photo proofs.
// When set, proof geotags must fall within the radius.
type ProofSite struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusKM  float64 `json:"radiuskm"`
}

// Milestone is a campaign milestone.
type Milestone struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	TargetDate        time.Time  `json:"targetdate"`
	FundingPercentage float64    `json:"fundingpercentage"`
	Status            string     `json:"status"`
	Site              *ProofSite `json:"site,omitempty"`
	EscrowAmount      float64    `json:"escrowamount,omitempty"`
	EscrowRef         string     `json:"escrowref,omitempty"`
}

// Campaign is a launched campaign.
type Campaign struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	FundingGoal    float64     `json:"fundinggoal"`
	CurrentFunding float64     `json:"currentfunding"`
	TokenSymbol    string      `json:"tokensymbol"`
	Status         string      `json:"status"`
	FounderAccount string      `json:"founderaccount"`
	LaunchedAt     time.Time   `json:"launchedat"`
	EndDate        time.Time   `json:"enddate"`
	Milestones     []Milestone `json:"milestones"`
	PoolAccount    string      `json:"poolaccount,omitempty"`
	IdentityRef    string      `json:"identityref,omitempty"`
	NeedsReview    bool        `json:"needsreview,omitempty"`
}

// KYC is the founder's know-your-customer payload submitted at launch.
type KYC struct {
	CompanyName        string `json:"companyname"`
	RegistrationNumber string `json:"registrationnumber"`
	Address            string `json:"address"`
	ContactEmail       string `json:"contactemail"`
	ContactPhone       string `json:"contactphone"`
	BusinessType       string `json:"businesstype"`
}

// CampaignNew launches a campaign.
type CampaignNew struct {
	Name             string      `json:"name"`
	FundingGoal      float64     `json:"fundinggoal"`
	TokenSymbol      string      `json:"tokensymbol"`
	TotalSupply      float64     `json:"totalsupply"`
	FounderAccount   string      `json:"founderaccount"`
	EndDate          time.Time   `json:"enddate"`
	Milestones       []Milestone `json:"milestones"`
	KYC              KYC         `json:"kyc"`
	PoolTokenAmount  float64     `json:"pooltokenamount"`
	PoolStableAmount float64     `json:"poolstableamount"`
}

// CampaignNewReply is the reply to CampaignNew.
type CampaignNewReply struct {
	Campaign Campaign `json:"campaign"`
}

// CampaignsReply is the reply to a campaign listing request.
type CampaignsReply struct {
	Campaigns []Campaign `json:"campaigns"`
}

// Geotag is the capture location of a photo proof.
type Geotag struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  float64   `json:"accuracy,omitempty"`
}

// ProofSubmit submits a milestone photo proof. The image payload is base64
// encoded by encoding/json.
type ProofSubmit struct {
	Image       []byte `json:"image"`
	Description string `json:"description,omitempty"`
	Geotag      Geotag `json:"geotag"`
}

// ProofRecord is the permanent record of an anchored proof.
type ProofRecord struct {
	CampaignID     string `json:"campaignid"`
	MilestoneID    string `json:"milestoneid"`
	ProofHash      string `json:"proofhash"`
	StoragePointer string `json:"storagepointer"`
	AnchorTx       string `json:"anchortx"`
	Geotag         Geotag `json:"geotag"`
	Status         string `json:"status"`
}

// ProofSubmitReply is the reply to ProofSubmit.
type ProofSubmitReply struct {
	Record ProofRecord `json:"record"`
}

// ProofJudge records an auditor decision for the most recently submitted
// proof of a milestone. Approval releases the milestone's escrow.
type ProofJudge struct {
	Approved bool `json:"approved"`
}

// ProofJudgeReply is the reply to ProofJudge.
type ProofJudgeReply struct {
	MilestoneStatus string `json:"milestonestatus"`
}

// Quote requests a trade quote. Decoded from query parameters.
type Quote struct {
	FromSymbol string  `schema:"from"`
	FromIssuer string  `schema:"fromissuer"`
	ToSymbol   string  `schema:"to"`
	ToIssuer   string  `schema:"toissuer"`
	Amount     float64 `schema:"amount"`
}

// QuoteHop is one pool traversal of a quoted route.
type QuoteHop struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	AmountIn  float64 `json:"amountin"`
	AmountOut float64 `json:"amountout"`
	Impact    float64 `json:"impact"`
}

// QuoteReply is the reply to Quote. For multi-hop routes the reported
// impact is the sum of per-hop impacts, which is an approximation.
type QuoteReply struct {
	AmountOut float64    `json:"amountout"`
	Impact    float64    `json:"impact"`
	Hops      []QuoteHop `json:"hops"`
}

// PoolStatsReply is a point-in-time pool depth snapshot.
type PoolStatsReply struct {
	Account       string    `json:"account"`
	ReserveToken  float64   `json:"reservetoken"`
	ReserveStable float64   `json:"reservestable"`
	Price         float64   `json:"price"`
	TradingFee    uint16    `json:"tradingfee"`
	ObservedAt    time.Time `json:"observedat"`
}
