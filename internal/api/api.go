package api

import (
	"errors"
	"fmt"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/client"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/observability"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/ponum"
)

// ErrOperationNotSupported is returned for requests this client cannot
// express, such as permission DOTs.
var ErrOperationNotSupported = errors.New("api: operation not supported")

// Transactor is the part of client.Client the API needs.
type Transactor interface {
	NextSeqNo() uint32
	Do(f *frame.Frame, onFrame client.Callback) (*client.RequestContext, error)
}

type API struct {
	tx Transactor
}

func New(tx Transactor) *API {
	return &API{tx: tx}
}

func (a *API) newFrame(cmd string) *frame.Frame {
	return frame.New(cmd, a.tx.NextSeqNo())
}

// oneShot sends f and waits for the agent's resp. extract, when set, sees
// the resp frame on the dispatch goroutine before its status is checked.
func (a *API) oneShot(f *frame.Frame, extract func(*frame.Frame)) error {
	var onFrame client.Callback
	if extract != nil {
		onFrame = func(resp *frame.Frame, final bool, r *client.RequestContext) bool {
			if resp != nil {
				extract(resp)
			}
			return client.SignalResponse(resp, final, r)
		}
	}
	_, err := a.tx.Do(f, onFrame)
	return err
}

// stream sends f and waits for the resp handshake. Later frames go to
// deliver; a nil frame reports the end of the stream with its cause.
func (a *API) stream(f *frame.Frame, deliver func(f *frame.Frame, final bool, err error) bool) (*client.RequestContext, error) {
	rctx, err := a.tx.Do(f, func(fr *frame.Frame, final bool, r *client.RequestContext) bool {
		if !r.Signaled() {
			if fr == nil {
				r.Signal(r.Result())
				return true
			}
			err := frame.InterpretResponse(fr)
			r.Signal(err)
			return err != nil
		}
		if fr == nil {
			deliver(nil, final, r.Result())
			return true
		}
		return deliver(fr, final, nil)
	})
	if err != nil {
		return nil, err
	}
	return rctx, nil
}

// SetEntity installs entity as the agent-side identity for this connection
// and returns its verifying key hash.
func (a *API) SetEntity(entity []byte) (string, error) {
	f := a.newFrame(frame.CmdSetEntity)
	f.AddPayloadObject(ponum.ROEntityWKey, entity)

	var vk string
	err := a.oneShot(f, func(resp *frame.Frame) {
		vk, _ = resp.HeaderString(hdrVK)
	})
	if err != nil {
		return "", fmt.Errorf("api: set entity: %w", err)
	}
	logger := observability.Logger("api")
	logger.Debug().Str("vk", vk).Msg("entity set")
	return vk, nil
}

func (a *API) Publish(p PublishParams) error {
	cmd := frame.CmdPublish
	if p.Persist {
		cmd = frame.CmdPersist
	}
	f := a.newFrame(cmd)
	addRouting(f, p.Routing)
	for _, po := range p.PayloadObjects {
		f.AddPayloadObject(po.PONum, po.Content)
	}
	addVerification(f, p.Routing)
	addBool(f, hdrPersist, p.Persist)

	if err := a.oneShot(f, nil); err != nil {
		return fmt.Errorf("api: publish %s: %w", p.URI, err)
	}
	return nil
}

// Message is one result delivered by a subscription or query.
type Message struct {
	From string
	URI  string
	POs  []frame.PayloadObject
	ROs  []frame.RoutingObject
	// Err is ErrMissingHeader when the agent omitted from or uri.
	Err error
}

// MessageHandler receives results in arrival order. A nil message with a
// non-nil err ends the stream. Returning true stops delivery.
type MessageHandler func(m *Message, final bool, err error) bool

func messageFromFrame(f *frame.Frame) *Message {
	m := &Message{POs: f.PayloadObjects, ROs: f.RoutingObjects}
	from, okFrom := f.HeaderString(hdrFrom)
	uri, okURI := f.HeaderString(hdrURI)
	if okFrom && okURI {
		m.From, m.URI = from, uri
		return m
	}
	key := hdrFrom
	if okFrom {
		key = hdrURI
	}
	m.Err = frame.MissingHeaderError{Cmd: f.Cmd, Key: key}
	return m
}

func (a *API) Subscribe(p SubscribeParams, h MessageHandler) (*client.RequestContext, error) {
	rctx, err := a.messageStream(frame.CmdSubscribe, p, h)
	if err != nil {
		return nil, fmt.Errorf("api: subscribe %s: %w", p.URI, err)
	}
	return rctx, nil
}

func (a *API) Query(p QueryParams, h MessageHandler) (*client.RequestContext, error) {
	rctx, err := a.messageStream(frame.CmdQuery, p, h)
	if err != nil {
		return nil, fmt.Errorf("api: query %s: %w", p.URI, err)
	}
	return rctx, nil
}

func (a *API) messageStream(cmd string, p SubscribeParams, h MessageHandler) (*client.RequestContext, error) {
	f := a.newFrame(cmd)
	addRouting(f, p.Routing)
	addIfSet(f, hdrElaboratePAC, p.ElaboratePAC)
	if !p.LeavePacked {
		addBool(f, hdrUnpack, true)
	}
	addBool(f, hdrDoVerify, !p.DoNotVerify)

	return a.stream(f, func(fr *frame.Frame, final bool, err error) bool {
		if h == nil {
			return fr == nil
		}
		if fr == nil {
			h(nil, final, err)
			return true
		}
		return h(messageFromFrame(fr), final, nil)
	})
}

// ChildHandler receives one child URI per result; child is empty when the
// agent sent none.
type ChildHandler func(child string, final bool, err error) bool

func (a *API) List(p ListParams, h ChildHandler) (*client.RequestContext, error) {
	f := a.newFrame(frame.CmdList)
	addRouting(f, p.Routing)
	addVerification(f, p.Routing)

	rctx, err := a.stream(f, func(fr *frame.Frame, final bool, err error) bool {
		if h == nil {
			return fr == nil
		}
		if fr == nil {
			h("", final, err)
			return true
		}
		child, _ := fr.HeaderString(hdrChild)
		return h(child, final, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("api: list %s: %w", p.URI, err)
	}
	return rctx, nil
}

// Entity is a freshly created entity.
type Entity struct {
	VKHash string
	// Blob is the packed entity, including its signing key.
	Blob []byte
}

func (a *API) CreateEntity(p CreateEntityParams) (Entity, error) {
	f := a.newFrame(frame.CmdMakeEntity)
	addAuthoring(f, p.Authoring)

	var e Entity
	err := a.oneShot(f, func(resp *frame.Frame) {
		e.VKHash, _ = resp.HeaderString(hdrVK)
		if po, ok := resp.PayloadObject(); ok {
			e.Blob = append([]byte(nil), po.Content...)
		}
	})
	if err != nil {
		return Entity{}, fmt.Errorf("api: create entity: %w", err)
	}
	return e, nil
}

// DOT is a freshly created declaration of trust.
type DOT struct {
	Hash string
	Blob []byte
}

func (a *API) CreateDOT(p CreateDOTParams) (DOT, error) {
	if p.IsPermission {
		return DOT{}, fmt.Errorf("api: create permission DOT: %w", ErrOperationNotSupported)
	}
	f := a.newFrame(frame.CmdMakeDOT)
	addAuthoring(f, p.Authoring)
	f.AddHeaderString(hdrTTL, fmt.Sprint(p.TTL))
	f.AddHeaderString(hdrTo, p.To)
	addBool(f, hdrIsPermission, false)
	f.AddHeaderString(hdrURI, p.URI)
	f.AddHeaderString(hdrAccessPermissions, p.AccessPermissions)

	var d DOT
	err := a.oneShot(f, func(resp *frame.Frame) {
		d.Hash, _ = resp.HeaderString(hdrHash)
		if po, ok := resp.PayloadObject(); ok {
			d.Blob = append([]byte(nil), po.Content...)
		}
	})
	if err != nil {
		return DOT{}, fmt.Errorf("api: create DOT on %s: %w", p.URI, err)
	}
	return d, nil
}

// CreateDOTChain links existing DOTs and returns the chain hash.
func (a *API) CreateDOTChain(p CreateDOTChainParams) (string, error) {
	f := a.newFrame(frame.CmdMakeChain)
	addBool(f, hdrIsPermission, p.IsPermission)
	addBool(f, hdrUnelaborate, p.UnElaborate)
	for _, d := range p.DOTs {
		f.AddHeaderString(hdrDOT, d)
	}

	var hash string
	err := a.oneShot(f, func(resp *frame.Frame) {
		hash, _ = resp.HeaderString(hdrHash)
	})
	if err != nil {
		return "", fmt.Errorf("api: create DOT chain: %w", err)
	}
	return hash, nil
}

// Chain is one access chain found by BuildChain.
type Chain struct {
	Hash        string
	Permissions string
	To          string
	URI         string
	Content     []byte
}

// ChainHandler receives chains as the agent finds them. A final call with a
// nil chain ends the search.
type ChainHandler func(c *Chain, final bool, err error) bool

func (a *API) BuildChain(p BuildChainParams, h ChainHandler) (*client.RequestContext, error) {
	f := a.newFrame(frame.CmdBuildChain)
	f.AddHeaderString(hdrURI, p.URI)
	f.AddHeaderString(hdrTo, p.To)
	f.AddHeaderString(hdrAccessPermissions, p.AccessPermissions)

	rctx, err := a.stream(f, func(fr *frame.Frame, final bool, err error) bool {
		if h == nil {
			return fr == nil
		}
		if fr == nil {
			h(nil, final, err)
			return true
		}
		hash, ok := fr.HeaderString(hdrHash)
		if !ok {
			if final {
				return h(nil, true, nil)
			}
			return false
		}
		c := &Chain{Hash: hash}
		c.Permissions, _ = fr.HeaderString(hdrPermissions)
		c.To, _ = fr.HeaderString(hdrTo)
		c.URI, _ = fr.HeaderString(hdrURI)
		if po, ok := fr.PayloadObject(); ok {
			c.Content = po.Content
		}
		return h(c, final, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("api: build chain %s: %w", p.URI, err)
	}
	return rctx, nil
}
