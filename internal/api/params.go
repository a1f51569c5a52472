package api

import (
	"strconv"
	"time"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
)

// Header keys understood by the agent.
const (
	hdrAutoChain          = "autochain"
	hdrExpiry             = "expiry"
	hdrExpiryDelta        = "expirydelta"
	hdrURI                = "uri"
	hdrPrimaryAccessChain = "primary_access_chain"
	hdrElaboratePAC       = "elaborate_pac"
	hdrDoVerify           = "doverify"
	hdrPersist            = "persist"
	hdrUnpack             = "unpack"
	hdrContact            = "contact"
	hdrComment            = "comment"
	hdrRevoker            = "revoker"
	hdrOmitCreationDate   = "omitcreationdate"
	hdrTTL                = "ttl"
	hdrTo                 = "to"
	hdrIsPermission       = "ispermission"
	hdrAccessPermissions  = "accesspermissions"
	hdrUnelaborate        = "unelaborate"
	hdrDOT                = "dot"
	hdrVK                 = "vk"
	hdrHash               = "hash"
	hdrFrom               = "from"
	hdrChild              = "child"
	hdrPermissions        = "permissions"
)

// Elaboration levels for the elaborate_pac header.
const (
	ElaborateNone    = ""
	ElaboratePartial = "partial"
	ElaborateFull    = "full"
)

const rfc3339UTC = "2006-01-02T15:04:05Z"

// Routing carries the options shared by every message-plane request.
type Routing struct {
	URI                string
	PrimaryAccessChain string
	AutoChain          bool
	// Expiry takes precedence over ExpiryDelta when both are set.
	Expiry       time.Time
	ExpiryDelta  time.Duration
	ElaboratePAC string
	DoNotVerify  bool
	// RoutingObjects are appended as-is, e.g. a pre-built access chain.
	RoutingObjects []frame.RoutingObject
}

type PublishParams struct {
	Routing
	PayloadObjects []frame.PayloadObject
	// Persist asks the agent to keep the message for later queries.
	Persist bool
}

type SubscribeParams struct {
	Routing
	// LeavePacked asks the agent not to unpack payload objects.
	LeavePacked bool
}

type QueryParams = SubscribeParams

type ListParams struct {
	Routing
}

// Authoring carries the options shared by entity and DOT creation.
type Authoring struct {
	Expiry           time.Time
	ExpiryDelta      time.Duration
	Contact          string
	Comment          string
	Revokers         []string
	OmitCreationDate bool
}

type CreateEntityParams struct {
	Authoring
}

type CreateDOTParams struct {
	Authoring
	TTL uint8
	// To is the VK hash receiving the grant.
	To                string
	IsPermission      bool
	URI               string
	AccessPermissions string
}

type CreateDOTChainParams struct {
	DOTs         []string
	IsPermission bool
	UnElaborate  bool
}

type BuildChainParams struct {
	URI               string
	To                string
	AccessPermissions string
}

func addBool(f *frame.Frame, key string, v bool) {
	f.AddHeaderString(key, strconv.FormatBool(v))
}

func addIfSet(f *frame.Frame, key, v string) {
	if v != "" {
		f.AddHeaderString(key, v)
	}
}

func addExpiry(f *frame.Frame, at time.Time, delta time.Duration) {
	switch {
	case !at.IsZero():
		f.AddHeaderString(hdrExpiry, at.UTC().Format(rfc3339UTC))
	case delta != 0:
		f.AddHeaderString(hdrExpiryDelta, strconv.FormatInt(delta.Milliseconds(), 10)+"ms")
	}
}

func addRouting(f *frame.Frame, r Routing) {
	if r.AutoChain {
		addBool(f, hdrAutoChain, true)
	}
	addExpiry(f, r.Expiry, r.ExpiryDelta)
	f.AddHeaderString(hdrURI, r.URI)
	addIfSet(f, hdrPrimaryAccessChain, r.PrimaryAccessChain)
	for _, ro := range r.RoutingObjects {
		f.AddRoutingObject(ro.RONum, ro.Content)
	}
}

func addVerification(f *frame.Frame, r Routing) {
	addIfSet(f, hdrElaboratePAC, r.ElaboratePAC)
	addBool(f, hdrDoVerify, !r.DoNotVerify)
}

func addAuthoring(f *frame.Frame, a Authoring) {
	addExpiry(f, a.Expiry, a.ExpiryDelta)
	addIfSet(f, hdrContact, a.Contact)
	addIfSet(f, hdrComment, a.Comment)
	for _, r := range a.Revokers {
		f.AddHeaderString(hdrRevoker, r)
	}
	if a.OmitCreationDate {
		addBool(f, hdrOmitCreationDate, true)
	}
}
