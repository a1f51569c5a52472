package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/api"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/client"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/config"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/observability"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/ponum"
)

type command struct {
	name string
	args []string
	do   func(ctx context.Context, a *api.API, c *client.Client, args []string, out *printer) error
}

var commands = map[string]command{
	"version":   {name: "version", do: doVersion},
	"publish":   {name: "publish", args: []string{"uri", "ponum", "text"}, do: doPublish},
	"subscribe": {name: "subscribe", args: []string{"uri"}, do: doSubscribe},
	"query":     {name: "query", args: []string{"uri"}, do: doQuery},
	"list":      {name: "list", args: []string{"uri"}, do: doList},
}

func lookupCommand(rest []string) (command, error) {
	cmd, ok := commands[rest[0]]
	if !ok {
		return command{}, fmt.Errorf("unknown command %q", rest[0])
	}
	if len(rest)-1 != len(cmd.args) {
		return command{}, fmt.Errorf("%s takes %d argument(s): %v", cmd.name, len(cmd.args), cmd.args)
	}
	cmd.args = rest[1:]
	return cmd, nil
}

func (cmd command) exec(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	c, err := client.Connect(ctx, cfg.Client)
	if err != nil {
		return err
	}
	defer c.Close()

	statusCtx, stopStatus := context.WithCancel(ctx)
	var statusWG sync.WaitGroup
	defer func() {
		stopStatus()
		statusWG.Wait()
	}()
	if cfg.StatusAddress != "" {
		statusWG.Add(1)
		go func() {
			defer statusWG.Done()
			err := observability.ServeStatus(statusCtx, cfg.StatusAddress, observability.StatusConfig{
				Node:        "bw2ctl",
				CORSOrigins: cfg.CORSOrigins,
				Status:      func() any { return c.Snapshot() },
				Healthy:     func() bool { return c.Status() == client.StatusAlive },
			})
			if err != nil {
				log.Error().Err(err).Str("addr", cfg.StatusAddress).Msg("status surface stopped")
			}
		}()
	}

	a := api.New(c)
	if cfg.EntityFile != "" {
		entity, err := os.ReadFile(cfg.EntityFile)
		if err != nil {
			return fmt.Errorf("read entity: %w", err)
		}
		vk, err := a.SetEntity(entity)
		if err != nil {
			return err
		}
		log.Info().Str("vk", vk).Msg("entity set")
	}

	return cmd.do(ctx, a, c, cmd.args, &printer{out: stdout})
}

// printer serializes output from the dispatch goroutine and the caller.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) message(m *api.Message) {
	if m.Err != nil {
		p.printf("! %v\n", m.Err)
		return
	}
	p.printf("%s from %s\n", m.URI, m.From)
	for _, po := range m.POs {
		p.printf("  %s %s\n", ponum.Format(po.PONum), renderPO(po))
	}
}

func renderPO(po frame.PayloadObject) string {
	if ponum.Matches(po.PONum, ponum.Text, 4) && utf8.Valid(po.Content) {
		return fmt.Sprintf("%q", po.Content)
	}
	return fmt.Sprintf("<%d bytes>", len(po.Content))
}

func doVersion(_ context.Context, _ *api.API, c *client.Client, _ []string, out *printer) error {
	out.printf("%s\n", c.AgentVersion())
	return nil
}

func doPublish(_ context.Context, a *api.API, _ *client.Client, args []string, out *printer) error {
	num, err := ponum.Parse(args[1])
	if err != nil {
		return err
	}
	err = a.Publish(api.PublishParams{
		Routing:        api.Routing{URI: args[0], AutoChain: true},
		PayloadObjects: []frame.PayloadObject{{PONum: num, Content: []byte(args[2])}},
	})
	if err != nil {
		return err
	}
	out.printf("published to %s\n", args[0])
	return nil
}

// waitStream blocks until the stream ends, the connection drops, or ctx is
// done. end is closed by the handler on the final result.
func waitStream(ctx context.Context, c *client.Client, end <-chan struct{}) error {
	select {
	case <-end:
		return nil
	case <-c.Done():
		// end is closed on the dispatch goroutine before the loop can exit.
		select {
		case <-end:
			return nil
		default:
		}
		return c.Err()
	case <-ctx.Done():
		return nil
	}
}

func messageHandler(out *printer, end chan struct{}) api.MessageHandler {
	var once sync.Once
	return func(m *api.Message, final bool, err error) bool {
		if m != nil {
			out.message(m)
		}
		if err != nil {
			out.printf("! %v\n", err)
		}
		if final {
			once.Do(func() { close(end) })
		}
		return false
	}
}

func doSubscribe(ctx context.Context, a *api.API, c *client.Client, args []string, out *printer) error {
	end := make(chan struct{})
	if _, err := a.Subscribe(api.SubscribeParams{Routing: api.Routing{URI: args[0], AutoChain: true}}, messageHandler(out, end)); err != nil {
		return err
	}
	return waitStream(ctx, c, end)
}

func doQuery(ctx context.Context, a *api.API, c *client.Client, args []string, out *printer) error {
	end := make(chan struct{})
	if _, err := a.Query(api.QueryParams{Routing: api.Routing{URI: args[0], AutoChain: true}}, messageHandler(out, end)); err != nil {
		return err
	}
	return waitStream(ctx, c, end)
}

func doList(ctx context.Context, a *api.API, c *client.Client, args []string, out *printer) error {
	end := make(chan struct{})
	var once sync.Once
	_, err := a.List(api.ListParams{Routing: api.Routing{URI: args[0], AutoChain: true}}, func(child string, final bool, err error) bool {
		if child != "" {
			out.printf("%s\n", child)
		}
		if err != nil {
			out.printf("! %v\n", err)
		}
		if final {
			once.Do(func() { close(end) })
		}
		return false
	})
	if err != nil {
		return err
	}
	return waitStream(ctx, c, end)
}
