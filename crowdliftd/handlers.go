// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crowdlift/crowdlift/campaigns"
	v1 "github.com/crowdlift/crowdlift/crowdliftd/api/v1"
	"github.com/crowdlift/crowdlift/escrow"
	"github.com/crowdlift/crowdlift/identity"
	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/milestones"
	"github.com/crowdlift/crowdlift/util"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
)

// queryDecoder decodes query parameters into request structs.
var queryDecoder = schema.NewDecoder()

// respondInternalError logs the error, including its stack trace when one is
// attached, and replies 500 with a generic message.
func respondInternalError(w http.ResponseWriter, msg string, err error) {
	if t, ok := util.StackTrace(err); ok {
		log.Errorf("%v: %v%v", msg, err, t)
	} else {
		log.Errorf("%v: %v", msg, err)
	}
	util.RespondWithError(w, http.StatusInternalServerError, msg)
}

func convertMilestone(m campaigns.Milestone) v1.Milestone {
	vm := v1.Milestone{
		ID:                m.ID,
		Title:             m.Title,
		Description:       m.Description,
		TargetDate:        m.TargetDate,
		FundingPercentage: m.FundingPercentage,
		Status:            m.Status,
		EscrowAmount:      m.EscrowAmount,
		EscrowRef:         m.EscrowRef,
	}
	if m.Site != nil {
		vm.Site = &v1.ProofSite{
			Latitude:  m.Site.Latitude,
			Longitude: m.Site.Longitude,
			RadiusKM:  m.Site.RadiusKM,
		}
	}
	return vm
}

func convertCampaign(c campaigns.Campaign) v1.Campaign {
	vc := v1.Campaign{
		ID:             c.ID,
		Name:           c.Name,
		FundingGoal:    c.FundingGoal,
		CurrentFunding: c.CurrentFunding,
		TokenSymbol:    c.TokenSymbol,
		Status:         c.Status,
		FounderAccount: c.FounderAccount,
		LaunchedAt:     c.LaunchedAt,
		EndDate:        c.EndDate,
		IdentityRef:    c.IdentityRef,
		NeedsReview:    c.NeedsReview,
	}
	if c.Pool != nil {
		vc.PoolAccount = c.Pool.Account
	}
	for _, m := range c.Milestones {
		vc.Milestones = append(vc.Milestones, convertMilestone(m))
	}
	return vc
}

// handleCampaignNew launches a new campaign.
func (d *crowdliftd) handleCampaignNew(w http.ResponseWriter, r *http.Request) {
	var cn v1.CampaignNew
	if err := json.NewDecoder(r.Body).Decode(&cn); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"invalid request payload")
		return
	}

	c := campaigns.Campaign{
		Name:           cn.Name,
		FundingGoal:    cn.FundingGoal,
		TokenSymbol:    cn.TokenSymbol,
		TotalSupply:    cn.TotalSupply,
		Status:         campaigns.StatusDraft,
		FounderAccount: cn.FounderAccount,
		EndDate:        cn.EndDate,
	}
	for _, m := range cn.Milestones {
		cm := campaigns.Milestone{
			ID:                m.ID,
			Title:             m.Title,
			Description:       m.Description,
			TargetDate:        m.TargetDate,
			FundingPercentage: m.FundingPercentage,
		}
		if m.Site != nil {
			cm.Site = &campaigns.ProofSite{
				Latitude:  m.Site.Latitude,
				Longitude: m.Site.Longitude,
				RadiusKM:  m.Site.RadiusKM,
			}
		}
		c.Milestones = append(c.Milestones, cm)
	}

	launched, err := d.launcher.Launch(r.Context(), campaigns.LaunchParams{
		Campaign: c,
		KYC: &identity.KYC{
			CompanyName:        cn.KYC.CompanyName,
			RegistrationNumber: cn.KYC.RegistrationNumber,
			Address:            cn.KYC.Address,
			ContactEmail:       cn.KYC.ContactEmail,
			ContactPhone:       cn.KYC.ContactPhone,
			BusinessType:       cn.KYC.BusinessType,
		},
		FounderSigner: newRemoteSigner(d.cfg.SignerHost,
			cn.FounderAccount),
		TreasurySigner:   d.treasury,
		PoolTokenAmount:  cn.PoolTokenAmount,
		PoolStableAmount: cn.PoolStableAmount,
	})
	if err != nil {
		log.Errorf("handleCampaignNew: %v", err)
		util.RespondWithError(w, http.StatusInternalServerError,
			err.Error())
		return
	}

	util.RespondWithJSON(w, http.StatusOK, v1.CampaignNewReply{
		Campaign: convertCampaign(*launched),
	})
}

// handleCampaigns returns the campaign listing.
func (d *crowdliftd) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	cs, err := d.store.All()
	if err != nil {
		respondInternalError(w, "could not load campaigns", err)
		return
	}
	reply := v1.CampaignsReply{
		Campaigns: make([]v1.Campaign, 0, len(cs)),
	}
	for _, c := range cs {
		reply.Campaigns = append(reply.Campaigns, convertCampaign(c))
	}
	util.RespondWithJSON(w, http.StatusOK, reply)
}

// handleCampaignDetails returns a single campaign.
func (d *crowdliftd) handleCampaignDetails(w http.ResponseWriter, r *http.Request) {
	c, err := d.store.Get(mux.Vars(r)["id"])
	if err != nil {
		util.RespondWithError(w, http.StatusNotFound, "campaign not found")
		return
	}
	util.RespondWithJSON(w, http.StatusOK, convertCampaign(*c))
}

// proofKey keys the pending proof records map.
func proofKey(campaignID, milestoneID string) string {
	return campaignID + ":" + milestoneID
}

// handleProofSubmit validates and anchors a milestone photo proof.
func (d *crowdliftd) handleProofSubmit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	campaignID, milestoneID := vars["id"], vars["milestoneid"]

	var ps v1.ProofSubmit
	if err := json.NewDecoder(r.Body).Decode(&ps); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"invalid request payload")
		return
	}

	c, err := d.store.Get(campaignID)
	if err != nil {
		util.RespondWithError(w, http.StatusNotFound, "campaign not found")
		return
	}
	m, err := c.Milestone(milestoneID)
	if err != nil {
		util.RespondWithError(w, http.StatusNotFound, "milestone not found")
		return
	}
	var expected *milestones.Location
	if m.Site != nil {
		expected = &milestones.Location{
			Latitude:  m.Site.Latitude,
			Longitude: m.Site.Longitude,
			RadiusKM:  m.Site.RadiusKM,
		}
	}

	rec, err := d.verifier.AnchorProof(r.Context(), &milestones.PhotoProof{
		CampaignID:  campaignID,
		MilestoneID: milestoneID,
		Image:       ps.Image,
		Description: ps.Description,
		Geotag: milestones.Geotag{
			Latitude:  ps.Geotag.Latitude,
			Longitude: ps.Geotag.Longitude,
			Timestamp: ps.Geotag.Timestamp,
			Accuracy:  ps.Geotag.Accuracy,
		},
	}, expected, newRemoteSigner(d.cfg.SignerHost, c.FounderAccount))
	if err != nil {
		log.Errorf("handleProofSubmit: %v", err)
		util.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = d.store.Update(campaignID, func(c *campaigns.Campaign) error {
		m, err := c.Milestone(milestoneID)
		if err != nil {
			return err
		}
		m.ProofHash = rec.ProofHash
		if m.Status == campaigns.MilestonePending {
			m.Status = campaigns.MilestoneInProgress
		}
		return nil
	})
	if err != nil {
		respondInternalError(w, "could not record proof", err)
		return
	}

	d.mtx.Lock()
	d.proofs[proofKey(campaignID, milestoneID)] = rec
	d.mtx.Unlock()

	util.RespondWithJSON(w, http.StatusOK, v1.ProofSubmitReply{
		Record: v1.ProofRecord{
			CampaignID:     rec.CampaignID,
			MilestoneID:    rec.MilestoneID,
			ProofHash:      rec.ProofHash,
			StoragePointer: rec.StoragePointer,
			AnchorTx:       rec.AnchorTx,
			Geotag:         ps.Geotag,
			Status:         rec.Status,
		},
	})
}

// handleProofJudge records an auditor decision on a milestone's pending
// proof. Approval finishes the milestone's escrow.
func (d *crowdliftd) handleProofJudge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	campaignID, milestoneID := vars["id"], vars["milestoneid"]

	var pj v1.ProofJudge
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"invalid request payload")
		return
	}

	d.mtx.Lock()
	rec, ok := d.proofs[proofKey(campaignID, milestoneID)]
	d.mtx.Unlock()
	if !ok {
		util.RespondWithError(w, http.StatusNotFound,
			"no pending proof for milestone")
		return
	}

	c, err := d.store.Get(campaignID)
	if err != nil {
		util.RespondWithError(w, http.StatusNotFound, "campaign not found")
		return
	}
	m, err := c.Milestone(milestoneID)
	if err != nil {
		util.RespondWithError(w, http.StatusNotFound, "milestone not found")
		return
	}
	ref, err := escrow.ParseRef(m.EscrowRef)
	if err != nil {
		util.RespondWithError(w, http.StatusInternalServerError,
			"milestone has no escrow")
		return
	}

	err = d.verifier.Judge(r.Context(), rec, pj.Approved, ref, d.treasury)
	if err != nil {
		log.Errorf("handleProofJudge: %v", err)
		code := http.StatusInternalServerError
		if errors.Is(err, escrow.ErrPreconditionFailed) {
			code = http.StatusConflict
		}
		util.RespondWithError(w, code, err.Error())
		return
	}

	status := campaigns.MilestoneInProgress
	if pj.Approved {
		status = campaigns.MilestoneCompleted
	}
	err = d.store.Update(campaignID, func(c *campaigns.Campaign) error {
		m, err := c.Milestone(milestoneID)
		if err != nil {
			return err
		}
		m.Status = status
		if !pj.Approved {
			// A rejected proof no longer shields the milestone from
			// the deadline sweep.
			m.ProofHash = ""
		}
		return nil
	})
	if err != nil {
		respondInternalError(w, "could not record judgement", err)
		return
	}

	util.RespondWithJSON(w, http.StatusOK, v1.ProofJudgeReply{
		MilestoneStatus: status,
	})
}

// asset converts a symbol/issuer query pair to a pool asset. An empty or
// native symbol selects the native currency.
func asset(symbol, issuer string) ledger.Asset {
	if symbol == "" || symbol == "XRP" {
		return ledger.NativeAsset
	}
	return ledger.Asset{
		Currency: ledger.CurrencyCode(symbol),
		Issuer:   issuer,
	}
}

// handleQuote quotes a trade, routing through the native currency when no
// direct pool exists.
func (d *crowdliftd) handleQuote(w http.ResponseWriter, r *http.Request) {
	var q v1.Quote
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"invalid query parameters")
		return
	}

	route, err := d.engine.BestRoute(r.Context(), asset(q.FromSymbol,
		q.FromIssuer), asset(q.ToSymbol, q.ToIssuer), q.Amount)
	if err != nil {
		log.Errorf("handleQuote: %v", err)
		util.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply := v1.QuoteReply{
		AmountOut: route.AmountOut,
		Impact:    route.Impact,
	}
	for _, h := range route.Hops {
		reply.Hops = append(reply.Hops, v1.QuoteHop{
			From:      ledger.DecodeCurrencyCode(h.From.Currency),
			To:        ledger.DecodeCurrencyCode(h.To.Currency),
			AmountIn:  h.AmountIn,
			AmountOut: h.AmountOut,
			Impact:    h.Impact,
		})
	}
	util.RespondWithJSON(w, http.StatusOK, reply)
}

// handlePoolStats returns a depth snapshot of a campaign token pool.
func (d *crowdliftd) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	issuer := r.URL.Query().Get("issuer")
	if !ledger.ValidAddress(issuer) {
		util.RespondWithError(w, http.StatusBadRequest,
			"invalid or missing issuer")
		return
	}

	stats, err := d.engine.Stats(r.Context(), asset(symbol, issuer))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			util.RespondWithError(w, http.StatusNotFound,
				"no pool for token")
			return
		}
		log.Errorf("handlePoolStats: %v", err)
		util.RespondWithError(w, http.StatusInternalServerError,
			err.Error())
		return
	}

	util.RespondWithJSON(w, http.StatusOK, v1.PoolStatsReply{
		Account:       stats.Account,
		ReserveToken:  stats.ReserveToken,
		ReserveStable: stats.ReserveStable,
		Price:         stats.Price,
		TradingFee:    stats.TradingFee,
		ObservedAt:    stats.ObservedAt,
	})
}

func init() {
	// Unknown query parameters are ignored rather than rejected.
	queryDecoder.IgnoreUnknownKeys(true)
}
