package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/client"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/ponum"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/testutil/agentsim"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/testutil/testlog"
)

const testTimeout = 2 * time.Second

func newTestAPI(t *testing.T) (*API, *client.Client, *agentsim.Agent) {
	t.Helper()
	conn, agent := agentsim.Pipe()
	c := client.NewClient(conn, client.DefaultConfig())
	go func() { _ = agent.Hello(agentsim.DefaultVersion) }()
	require.NoError(t, c.Handshake(context.Background()))
	require.NoError(t, c.Start())
	t.Cleanup(func() {
		_ = c.Close()
		_ = agent.Close()
	})
	return New(c), c, agent
}

// script runs the agent side of an exchange; wait returns its error.
func script(fn func() error) (wait func() error) {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return func() error {
		select {
		case err := <-done:
			return err
		case <-time.After(testTimeout):
			return errors.New("agent script did not finish")
		}
	}
}

func okay(req *frame.Frame, kv ...string) *frame.Frame {
	f := agentsim.Response(req.SeqNo, frame.StatusOkay, "")
	for i := 0; i+1 < len(kv); i += 2 {
		f.AddHeaderString(kv[i], kv[i+1])
	}
	return f
}

func headerValues(f *frame.Frame, key string) []string {
	var out []string
	for _, h := range f.Headers {
		if h.Key == key {
			out = append(out, string(h.Value))
		}
	}
	return out
}

func TestSetEntityReturnsVK(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	var got *frame.Frame
	wait := script(func() error {
		req, err := agent.Expect(frame.CmdSetEntity, testTimeout)
		if err != nil {
			return err
		}
		got = req
		return agent.Send(okay(req, "vk", "vk-hash-abc="))
	})

	vk, err := a.SetEntity([]byte("entity-blob"))
	require.NoError(t, err)
	require.NoError(t, wait())
	require.Equal(t, "vk-hash-abc=", vk)
	po, ok := got.PayloadObject()
	require.True(t, ok)
	require.Equal(t, ponum.ROEntityWKey, po.PONum)
	require.Equal(t, "entity-blob", string(po.Content))
}

func TestPublishMarshalsHeadersAndObjects(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	var got *frame.Frame
	wait := script(func() error {
		req, err := agent.Expect(frame.CmdPublish, testTimeout)
		if err != nil {
			return err
		}
		got = req
		return agent.Respond(req, frame.StatusOkay, "")
	})

	err := a.Publish(PublishParams{
		Routing: Routing{
			URI:          "scratch.ns/demo",
			AutoChain:    true,
			ExpiryDelta:  1500 * time.Millisecond,
			ElaboratePAC: ElaborateFull,
			RoutingObjects: []frame.RoutingObject{
				{RONum: ponum.RODAccessChain, Content: []byte("chain")},
			},
		},
		PayloadObjects: []frame.PayloadObject{{PONum: ponum.Text, Content: []byte("hello")}},
	})
	require.NoError(t, err)
	require.NoError(t, wait())

	require.Equal(t, []string{"true"}, headerValues(got, "autochain"))
	require.Equal(t, []string{"1500ms"}, headerValues(got, "expirydelta"))
	require.Equal(t, []string{"scratch.ns/demo"}, headerValues(got, "uri"))
	require.Equal(t, []string{"full"}, headerValues(got, "elaborate_pac"))
	require.Equal(t, []string{"true"}, headerValues(got, "doverify"))
	require.Equal(t, []string{"false"}, headerValues(got, "persist"))
	require.Empty(t, headerValues(got, "primary_access_chain"))
	require.Len(t, got.PayloadObjects, 1)
	require.Equal(t, ponum.Text, got.PayloadObjects[0].PONum)
	require.Len(t, got.RoutingObjects, 1)
	require.Equal(t, ponum.RODAccessChain, got.RoutingObjects[0].RONum)
}

func TestPublishPersistAndAbsoluteExpiry(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	var got *frame.Frame
	wait := script(func() error {
		req, err := agent.Expect(frame.CmdPersist, testTimeout)
		if err != nil {
			return err
		}
		got = req
		return agent.Respond(req, frame.StatusOkay, "")
	})

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	err := a.Publish(PublishParams{
		Routing: Routing{URI: "a/b", Expiry: at, ExpiryDelta: time.Second, DoNotVerify: true},
		Persist: true,
	})
	require.NoError(t, err)
	require.NoError(t, wait())
	require.Equal(t, []string{"2026-03-04T04:06:07Z"}, headerValues(got, "expiry"))
	require.Empty(t, headerValues(got, "expirydelta"))
	require.Equal(t, []string{"false"}, headerValues(got, "doverify"))
	require.Equal(t, []string{"true"}, headerValues(got, "persist"))
}

func TestPublishReportsRejection(t *testing.T) {
	testlog.Start(t)
	a, c, agent := newTestAPI(t)

	wait := script(func() error {
		req, err := agent.Expect(frame.CmdPublish, testTimeout)
		if err != nil {
			return err
		}
		return agent.Respond(req, "fail", "no permission")
	})

	err := a.Publish(PublishParams{Routing: Routing{URI: "a/b"}})
	require.NoError(t, wait())
	require.ErrorIs(t, err, frame.ErrResponseStatus)
	var status frame.ResponseStatusError
	require.True(t, errors.As(err, &status))
	require.Equal(t, "no permission", status.Reason)
	require.Equal(t, 0, c.Pending())
}

type recorder struct {
	mu       sync.Mutex
	messages []Message
	finals   []bool
	errs     []error
	done     chan struct{}
	once     sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) handle(m *Message, final bool, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m != nil {
		cp := *m
		cp.POs = nil
		for _, po := range m.POs {
			cp.POs = append(cp.POs, frame.PayloadObject{PONum: po.PONum, Content: append([]byte(nil), po.Content...)})
		}
		r.messages = append(r.messages, cp)
	}
	r.finals = append(r.finals, final)
	r.errs = append(r.errs, err)
	if final {
		r.once.Do(func() { close(r.done) })
	}
	return false
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(testTimeout):
		t.Fatalf("stream never finished")
	}
}

func TestSubscribeDeliversMessagesAfterHandshake(t *testing.T) {
	testlog.Start(t)
	a, c, agent := newTestAPI(t)

	var sub *frame.Frame
	wait := script(func() error {
		req, err := agent.Expect(frame.CmdSubscribe, testTimeout)
		if err != nil {
			return err
		}
		sub = req
		return agent.Respond(req, frame.StatusOkay, "")
	})

	rec := newRecorder()
	rctx, err := a.Subscribe(SubscribeParams{Routing: Routing{URI: "a/+"}}, rec.handle)
	require.NoError(t, err)
	require.NoError(t, wait())
	require.NotNil(t, rctx)
	require.Equal(t, []string{"true"}, headerValues(sub, "unpack"))
	require.Equal(t, 1, c.Pending())

	text := frame.PayloadObject{PONum: ponum.Text, Content: []byte("21.5")}
	require.NoError(t, agent.Send(agentsim.Result(sub.SeqNo, false, "vk1", "a/temp", text)))
	noFrom := agentsim.Result(sub.SeqNo, false, "", "a/hum")
	require.NoError(t, agent.Send(noFrom))
	require.NoError(t, agent.Send(agentsim.Result(sub.SeqNo, true, "vk1", "a/temp")))
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.messages, 3)
	require.Equal(t, "vk1", rec.messages[0].From)
	require.Equal(t, "a/temp", rec.messages[0].URI)
	require.Equal(t, "21.5", string(rec.messages[0].POs[0].Content))
	require.NoError(t, rec.messages[0].Err)
	require.ErrorIs(t, rec.messages[1].Err, frame.ErrMissingHeader)
	require.Empty(t, rec.messages[1].URI)
	require.Equal(t, []bool{false, false, true}, rec.finals)
	require.NoError(t, rctx.Destroy())
}

func TestSubscribeLeavePackedOmitsUnpack(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	var sub *frame.Frame
	wait := script(func() error {
		req, err := agent.Expect(frame.CmdSubscribe, testTimeout)
		if err != nil {
			return err
		}
		sub = req
		return agent.Respond(req, frame.StatusOkay, "")
	})
	_, err := a.Subscribe(SubscribeParams{Routing: Routing{URI: "a/b"}, LeavePacked: true}, nil)
	require.NoError(t, err)
	require.NoError(t, wait())
	require.Empty(t, headerValues(sub, "unpack"))
}

func TestSubscribeRejectedHandshake(t *testing.T) {
	testlog.Start(t)
	a, c, agent := newTestAPI(t)

	wait := script(func() error {
		req, err := agent.Expect(frame.CmdSubscribe, testTimeout)
		if err != nil {
			return err
		}
		return agent.Respond(req, "bad", "denied")
	})
	rctx, err := a.Subscribe(SubscribeParams{Routing: Routing{URI: "a/b"}}, newRecorder().handle)
	require.NoError(t, wait())
	require.ErrorIs(t, err, frame.ErrResponseStatus)
	require.Nil(t, rctx)
	require.Equal(t, 0, c.Pending())
}

func TestSubscriptionSeesConnectionLoss(t *testing.T) {
	testlog.Start(t)
	a, c, agent := newTestAPI(t)

	wait := script(func() error {
		req, err := agent.Expect(frame.CmdSubscribe, testTimeout)
		if err != nil {
			return err
		}
		return agent.Respond(req, frame.StatusOkay, "")
	})
	rec := newRecorder()
	_, err := a.Subscribe(SubscribeParams{Routing: Routing{URI: "a/b"}}, rec.handle)
	require.NoError(t, err)
	require.NoError(t, wait())

	require.NoError(t, agent.Close())
	rec.wait(t)
	<-c.Done()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Empty(t, rec.messages)
	require.Equal(t, []bool{true}, rec.finals)
	require.ErrorIs(t, rec.errs[0], client.ErrConnectionLost)
}

type failingTransactor struct {
	sent int
	err  error
}

func (f *failingTransactor) NextSeqNo() uint32 { return 7 }

func (f *failingTransactor) Do(*frame.Frame, client.Callback) (*client.RequestContext, error) {
	f.sent++
	return nil, f.err
}

func TestQueryReportsTransactFailure(t *testing.T) {
	testlog.Start(t)
	tx := &failingTransactor{err: client.ErrConnectionLost}
	rctx, err := New(tx).Query(QueryParams{Routing: Routing{URI: "a/b"}}, nil)
	require.ErrorIs(t, err, client.ErrConnectionLost)
	require.Nil(t, rctx)
	require.Equal(t, 1, tx.sent)
}

func TestQueryStreamsUntilFinished(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	wait := script(func() error {
		req, err := agent.Expect(frame.CmdQuery, testTimeout)
		if err != nil {
			return err
		}
		if err := agent.Respond(req, frame.StatusOkay, ""); err != nil {
			return err
		}
		if err := agent.Send(agentsim.Result(req.SeqNo, false, "vk", "a/b/1")); err != nil {
			return err
		}
		return agent.Send(agentsim.Result(req.SeqNo, true, "vk", "a/b/2"))
	})
	rec := newRecorder()
	_, err := a.Query(QueryParams{Routing: Routing{URI: "a/b/*"}}, rec.handle)
	require.NoError(t, err)
	require.NoError(t, wait())
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.messages, 2)
	require.Equal(t, "a/b/2", rec.messages[1].URI)
}

func TestListDeliversChildren(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	wait := script(func() error {
		req, err := agent.Expect(frame.CmdList, testTimeout)
		if err != nil {
			return err
		}
		if err := agent.Respond(req, frame.StatusOkay, ""); err != nil {
			return err
		}
		for _, child := range []string{"a/b/c", "a/b/d"} {
			f := frame.New(frame.CmdResult, req.SeqNo)
			f.AddHeaderString("child", child)
			f.AddHeaderString(frame.HeaderFinished, "false")
			if err := agent.Send(f); err != nil {
				return err
			}
		}
		end := frame.New(frame.CmdResult, req.SeqNo)
		end.AddHeaderString(frame.HeaderFinished, "true")
		return agent.Send(end)
	})

	var mu sync.Mutex
	var children []string
	finished := make(chan struct{})
	_, err := a.List(ListParams{Routing: Routing{URI: "a/b"}}, func(child string, final bool, err error) bool {
		mu.Lock()
		children = append(children, child)
		mu.Unlock()
		if final {
			close(finished)
		}
		return false
	})
	require.NoError(t, err)
	require.NoError(t, wait())
	select {
	case <-finished:
	case <-time.After(testTimeout):
		t.Fatalf("list never finished")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a/b/c", "a/b/d", ""}, children)
}

func TestCreateEntityReturnsKeyAndBlob(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	var got *frame.Frame
	wait := script(func() error {
		req, err := agent.Expect(frame.CmdMakeEntity, testTimeout)
		if err != nil {
			return err
		}
		got = req
		resp := okay(req, "vk", "new-vk=")
		resp.AddPayloadObject(ponum.ROEntityWKey, []byte("packed"))
		return agent.Send(resp)
	})

	e, err := a.CreateEntity(CreateEntityParams{Authoring{
		Contact:          "ops@example.com",
		Comment:          "sensor",
		Revokers:         []string{"r1", "r2"},
		OmitCreationDate: true,
	}})
	require.NoError(t, err)
	require.NoError(t, wait())
	require.Equal(t, "new-vk=", e.VKHash)
	require.Equal(t, "packed", string(e.Blob))
	require.Equal(t, []string{"ops@example.com"}, headerValues(got, "contact"))
	require.Equal(t, []string{"r1", "r2"}, headerValues(got, "revoker"))
	require.Equal(t, []string{"true"}, headerValues(got, "omitcreationdate"))
}

func TestCreateDOTRejectsPermissionDOTWithoutSending(t *testing.T) {
	testlog.Start(t)
	tx := &failingTransactor{}
	_, err := New(tx).CreateDOT(CreateDOTParams{IsPermission: true})
	require.ErrorIs(t, err, ErrOperationNotSupported)
	require.Equal(t, 0, tx.sent)
}

func TestCreateDOTMarshalsGrant(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	var got *frame.Frame
	wait := script(func() error {
		req, err := agent.Expect(frame.CmdMakeDOT, testTimeout)
		if err != nil {
			return err
		}
		got = req
		resp := okay(req, "hash", "dot-hash=")
		resp.AddPayloadObject(ponum.Blob, []byte("dot"))
		return agent.Send(resp)
	})

	d, err := a.CreateDOT(CreateDOTParams{
		TTL:               3,
		To:                "vk-to=",
		URI:               "a/b/*",
		AccessPermissions: "PC",
	})
	require.NoError(t, err)
	require.NoError(t, wait())
	require.Equal(t, "dot-hash=", d.Hash)
	require.Equal(t, "dot", string(d.Blob))
	require.Equal(t, []string{"3"}, headerValues(got, "ttl"))
	require.Equal(t, []string{"vk-to="}, headerValues(got, "to"))
	require.Equal(t, []string{"false"}, headerValues(got, "ispermission"))
	require.Equal(t, []string{"PC"}, headerValues(got, "accesspermissions"))
}

func TestCreateDOTChainReturnsHash(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	var got *frame.Frame
	wait := script(func() error {
		req, err := agent.Expect(frame.CmdMakeChain, testTimeout)
		if err != nil {
			return err
		}
		got = req
		return agent.Send(okay(req, "hash", "chain-hash="))
	})

	hash, err := a.CreateDOTChain(CreateDOTChainParams{DOTs: []string{"d1", "d2"}, UnElaborate: true})
	require.NoError(t, err)
	require.NoError(t, wait())
	require.Equal(t, "chain-hash=", hash)
	require.Equal(t, []string{"d1", "d2"}, headerValues(got, "dot"))
	require.Equal(t, []string{"true"}, headerValues(got, "unelaborate"))
	require.Equal(t, []string{"false"}, headerValues(got, "ispermission"))
}

func TestBuildChainStreamsChains(t *testing.T) {
	testlog.Start(t)
	a, _, agent := newTestAPI(t)

	wait := script(func() error {
		req, err := agent.Expect(frame.CmdBuildChain, testTimeout)
		if err != nil {
			return err
		}
		if err := agent.Respond(req, frame.StatusOkay, ""); err != nil {
			return err
		}
		found := frame.New(frame.CmdResult, req.SeqNo)
		found.AddHeaderString("hash", "h1")
		found.AddHeaderString("permissions", "PC")
		found.AddHeaderString("to", "vk")
		found.AddHeaderString("uri", "a/b")
		found.AddHeaderString(frame.HeaderFinished, "false")
		found.AddPayloadObject(ponum.Blob, []byte("chain"))
		if err := agent.Send(found); err != nil {
			return err
		}
		noise := frame.New(frame.CmdResult, req.SeqNo)
		noise.AddHeaderString(frame.HeaderFinished, "false")
		if err := agent.Send(noise); err != nil {
			return err
		}
		end := frame.New(frame.CmdResult, req.SeqNo)
		end.AddHeaderString(frame.HeaderFinished, "true")
		return agent.Send(end)
	})

	type seen struct {
		hash    string
		content string
		final   bool
	}
	var mu sync.Mutex
	var chains []seen
	finished := make(chan struct{})
	_, err := a.BuildChain(BuildChainParams{URI: "a/b", To: "vk", AccessPermissions: "PC"}, func(ch *Chain, final bool, err error) bool {
		mu.Lock()
		defer mu.Unlock()
		s := seen{final: final}
		if ch != nil {
			s.hash = ch.Hash
			s.content = string(ch.Content)
		}
		chains = append(chains, s)
		if final {
			close(finished)
		}
		return false
	})
	require.NoError(t, err)
	require.NoError(t, wait())
	select {
	case <-finished:
	case <-time.After(testTimeout):
		t.Fatalf("chain search never finished")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []seen{{hash: "h1", content: "chain"}, {final: true}}, chains)
}
