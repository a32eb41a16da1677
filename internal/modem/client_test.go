package modem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/ntn-agent/internal/clock"
	"github.com/signalsfoundry/ntn-agent/internal/orchestrator"
	"github.com/signalsfoundry/ntn-agent/model"
)

// fakePort is an in-memory AT port. The responder callback sees every
// command line and returns the modem's reply lines.
type fakePort struct {
	cmdR  *io.PipeReader
	cmdW  *io.PipeWriter
	respR *io.PipeReader
	respW *io.PipeWriter
}

func newFakePort(t *testing.T, respond func(cmd string) []string) *fakePort {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	respR, respW := io.Pipe()
	p := &fakePort{cmdR: cmdR, cmdW: cmdW, respR: respR, respW: respW}

	go func() {
		scanner := bufio.NewScanner(cmdR)
		for scanner.Scan() {
			cmd := strings.TrimSpace(scanner.Text())
			if cmd == "" {
				continue
			}
			for _, line := range respond(cmd) {
				if _, err := io.WriteString(respW, line+"\r\n"); err != nil {
					return
				}
			}
		}
	}()
	t.Cleanup(func() {
		cmdR.Close()
		respW.Close()
	})
	return p
}

// inject writes an unsolicited line as if the modem produced it.
func (p *fakePort) inject(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(p.respW, line+"\r\n"); err != nil {
		t.Fatalf("inject %q: %v", line, err)
	}
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.respR.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.cmdW.Write(b) }
func (p *fakePort) Close() error {
	p.cmdW.Close()
	p.respR.Close()
	return nil
}

func okResponder(cmd string) []string { return []string{"OK"} }

func newTestClient(t *testing.T, respond func(string) []string) (*Client, *fakePort, *orchestrator.Signal, *orchestrator.Signal) {
	t.Helper()
	port := newFakePort(t, respond)
	reg := orchestrator.NewSignal()
	fix := orchestrator.NewSignal()
	opts := DefaultOptions()
	opts.CommandTimeout = 2 * time.Second
	c := NewClient(port, opts, nil, reg, fix)
	t.Cleanup(func() { c.Close() })
	return c, port, reg, fix
}

func TestConfigureIssuesFullSequence(t *testing.T) {
	var cmds []string
	c, _, _, _ := newTestClient(t, func(cmd string) []string {
		cmds = append(cmds, cmd)
		return []string{"OK"}
	})

	pos := model.Position{Latitude: 41.387416, Longitude: 2.168632, Altitude: 12.4, Valid: true}
	if err := c.Configure(context.Background(), pos); err != nil {
		t.Fatalf("Configure() = %v, want nil", err)
	}

	want := []string{
		"AT+CFUN=12",
		`AT%XBANDLOCK=1,"1000000000000000000000000000000000000000000000000000000000000000"`,
		"AT%CHSELECT=2,9,66296",
		"AT%XNTNFEAT=0,1",
		"AT%XSETGPSPOS=182168,131387,12400",
		`AT+COPS=1,2,"90197"`,
	}
	if len(cmds) != len(want) {
		t.Fatalf("commands = %v, want %v", cmds, want)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Fatalf("command %d = %q, want %q", i, cmds[i], want[i])
		}
	}
}

func TestConfigureSkipsPositionSeedWithoutFix(t *testing.T) {
	var cmds []string
	c, _, _, _ := newTestClient(t, func(cmd string) []string {
		cmds = append(cmds, cmd)
		return []string{"OK"}
	})

	if err := c.Configure(context.Background(), model.Position{}); err != nil {
		t.Fatalf("Configure() = %v, want nil", err)
	}
	for _, cmd := range cmds {
		if strings.HasPrefix(cmd, "AT%XSETGPSPOS") {
			t.Fatalf("position seed %q issued without a valid fix", cmd)
		}
	}
}

func TestConfigureStopsAtFirstRejectedCommand(t *testing.T) {
	var cmds []string
	c, _, _, _ := newTestClient(t, func(cmd string) []string {
		cmds = append(cmds, cmd)
		if strings.HasPrefix(cmd, "AT%XBANDLOCK") {
			return []string{"ERROR"}
		}
		return []string{"OK"}
	})

	err := c.Configure(context.Background(), model.Position{})
	if !errors.Is(err, orchestrator.ErrConfigurationFailure) {
		t.Fatalf("Configure() = %v, want ErrConfigurationFailure", err)
	}
	if got := len(cmds); got != 2 {
		t.Fatalf("issued %d commands after a rejection, want 2", got)
	}
}

func TestUnsolicitedRegistrationRaisesSignal(t *testing.T) {
	_, port, reg, _ := newTestClient(t, okResponder)

	port.inject(t, "+CEREG: 2,5")

	ok, err := reg.Await(context.Background(), clock.Real{}, 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("registration signal = (%v, %v), want raised", ok, err)
	}
}

func TestUnregisteredStatusDoesNotRaise(t *testing.T) {
	_, port, reg, _ := newTestClient(t, okResponder)

	port.inject(t, "+CEREG: 2,2") // searching

	ok, err := reg.Await(context.Background(), clock.Real{}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Await() = %v", err)
	}
	if ok {
		t.Fatal("registration signal raised for a non-registered status")
	}
}

func TestUnsolicitedPVTUpdatesLatestAndRaisesFix(t *testing.T) {
	c, port, _, fix := newTestClient(t, okResponder)

	port.inject(t, "%XGPSPVT: 41.387416,2.168632,12.4,9")

	ok, err := fix.Await(context.Background(), clock.Real{}, 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("fix signal = (%v, %v), want raised", ok, err)
	}
	got := c.Latest()
	if !got.Valid || got.Latitude != 41.387416 || got.FixCount != 9 {
		t.Fatalf("Latest() = %+v, want the injected fix", got)
	}
}

func TestCommandTimesOutWithoutReply(t *testing.T) {
	c, _, _, _ := newTestClient(t, func(cmd string) []string { return nil })
	c.opts.CommandTimeout = 100 * time.Millisecond

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() succeeded with a silent modem")
	}
}
