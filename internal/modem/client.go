// Package modem implements the attach-client and location collaborators
// over an AT command port. The command surface matches the nRF91-class
// NTN modems the device ships with: band-locked NB-IoT on the satellite
// band, a GUTI-authentication bypass, and GNSS delivered as unsolicited
// PVT lines on the same port.
package modem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "github.com/tarm/goserial"

	"github.com/signalsfoundry/ntn-agent/internal/logging"
	"github.com/signalsfoundry/ntn-agent/internal/orchestrator"
	"github.com/signalsfoundry/ntn-agent/model"
)

// Options configures the AT client.
type Options struct {
	PLMN     string
	BandMask string

	// CommandTimeout bounds every AT command round trip.
	CommandTimeout time.Duration
}

// DefaultOptions matches the Sateliot network profile.
func DefaultOptions() Options {
	return Options{
		PLMN:           "90197",
		BandMask:       "1000000000000000000000000000000000000000000000000000000000000000",
		CommandTimeout: 10 * time.Second,
	}
}

// Client drives one modem over an AT port. It implements both the attach
// client and the location source contracts; the modem owns the GNSS
// receiver on these parts.
type Client struct {
	port io.ReadWriteCloser
	opts Options
	log  logging.Logger

	reg *orchestrator.Signal
	fix *orchestrator.Signal

	cmdMu  sync.Mutex
	respCh chan string

	mu     sync.Mutex
	latest model.Position

	done chan struct{}
}

// Dial opens the serial device and starts the reader.
func Dial(device string, baud int, opts Options, log logging.Logger, reg, fix *orchestrator.Signal) (*Client, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open modem port %q: %w", device, err)
	}
	return NewClient(port, opts, log, reg, fix), nil
}

// NewClient wraps an already-open port. Tests inject a pipe here.
func NewClient(port io.ReadWriteCloser, opts Options, log logging.Logger, reg, fix *orchestrator.Signal) *Client {
	if log == nil {
		log = logging.Noop()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	c := &Client{
		port:   port,
		opts:   opts,
		log:    log,
		reg:    reg,
		fix:    fix,
		respCh: make(chan string, 4),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close stops the reader and closes the port.
func (c *Client) Close() error {
	close(c.done)
	return c.port.Close()
}

// readLoop dispatches modem output: command results go to the waiting
// command, unsolicited notifications are handled inline.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.port)
	for scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+CEREG:"):
			c.handleRegistration(line)
		case strings.HasPrefix(line, "%XGPSPVT:"):
			c.handleFix(line)
		case line == "OK" || line == "ERROR" || strings.HasPrefix(line, "+CME ERROR"):
			select {
			case c.respCh <- line:
			default:
			}
		}
	}
}

// handleRegistration raises the registration signal on a registered-home
// or registered-roaming network status.
func (c *Client) handleRegistration(line string) {
	fields := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, "+CEREG:")), ",")
	// <stat> is the last single-digit field in both "+CEREG: <stat>" and
	// "+CEREG: <n>,<stat>" forms.
	stat := strings.TrimSpace(fields[len(fields)-1])
	if len(fields) > 1 {
		stat = strings.TrimSpace(fields[1])
	}
	if stat == "1" || stat == "5" {
		c.log.Info(context.Background(), "network registered", logging.String("cereg", line))
		if c.reg != nil {
			c.reg.Raise()
		}
	}
}

// handleFix parses "%XGPSPVT: <lat>,<lon>,<alt>,<sv>" and publishes the
// position.
func (c *Client) handleFix(line string) {
	fields := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, "%XGPSPVT:")), ",")
	if len(fields) < 4 {
		return
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	alt, err3 := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	sv, err4 := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		c.log.Warn(context.Background(), "unparseable PVT line", logging.String("line", line))
		return
	}

	c.mu.Lock()
	c.latest = model.Position{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  alt,
		Valid:     true,
		FixCount:  uint(sv),
	}
	c.mu.Unlock()

	if c.fix != nil {
		c.fix.Raise()
	}
}

// command writes one AT command and waits for its final result line.
func (c *Client) command(ctx context.Context, cmd string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	// Drop any stale result from an earlier timed-out command.
	select {
	case <-c.respCh:
	default:
	}

	if _, err := io.WriteString(c.port, cmd+"\r\n"); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}

	timer := time.NewTimer(c.opts.CommandTimeout)
	defer timer.Stop()
	select {
	case resp := <-c.respCh:
		if resp != "OK" {
			return fmt.Errorf("command %q: modem replied %q", cmd, resp)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("command %q: no reply within %s", cmd, c.opts.CommandTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- orchestrator.AttachClient ----

// Configure programs the radio for the satellite network. The sequence
// stops at the first rejected command.
func (c *Client) Configure(ctx context.Context, hint model.Position) error {
	cmds := []string{
		// GUTI authentication bypass, required by the current firmware.
		"AT+CFUN=12",
		fmt.Sprintf("AT%%XBANDLOCK=1,%q", c.opts.BandMask),
		// 1996 MHz uplink, 2186 MHz downlink.
		"AT%CHSELECT=2,9,66296",
		"AT%XNTNFEAT=0,1",
	}
	for _, cmd := range cmds {
		if err := c.command(ctx, cmd); err != nil {
			return fmt.Errorf("%w: %v", orchestrator.ErrConfigurationFailure, err)
		}
	}

	if hint.Valid {
		if err := c.command(ctx, positionSeedCommand(hint)); err != nil {
			return fmt.Errorf("%w: %v", orchestrator.ErrConfigurationFailure, err)
		}
	}

	if err := c.command(ctx, fmt.Sprintf("AT+COPS=1,2,%q", c.opts.PLMN)); err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrConfigurationFailure, err)
	}
	return nil
}

// positionSeedCommand encodes the GPS hint with the modem's offset
// integer convention: latitude biased by 90000, longitude by 180000,
// both in millidegrees; altitude in millimetres.
func positionSeedCommand(p model.Position) string {
	lat := 90000 + int(p.Latitude*1000)
	lon := 180000 + int(p.Longitude*1000)
	alt := int(p.Altitude * 1000)
	return fmt.Sprintf("AT%%XSETGPSPOS=%d,%d,%d", lon, lat, alt)
}

// Connect requests network registration. The outcome arrives later as an
// unsolicited +CEREG line.
func (c *Client) Connect(ctx context.Context) error {
	return c.command(ctx, "AT+CFUN=1")
}

// Disconnect takes the radio offline.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.command(ctx, "AT+CFUN=4")
}

// HardReset forces a full functional reset.
func (c *Client) HardReset(ctx context.Context) error {
	if err := c.command(ctx, "AT+CFUN=0"); err != nil {
		return err
	}
	return c.command(ctx, "AT+CFUN=1")
}

// ---- orchestrator.LocationSource ----

// Start enables the GNSS receiver.
func (c *Client) Start(ctx context.Context) error {
	if err := c.command(ctx, "AT%XGPS=1"); err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrConfigurationFailure, err)
	}
	return nil
}

// Stop disables the GNSS receiver.
func (c *Client) Stop(ctx context.Context) error {
	return c.command(ctx, "AT%XGPS=0")
}

// Latest returns the most recent fix.
func (c *Client) Latest() model.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}
