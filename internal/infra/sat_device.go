package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"pdv/internal/fiscal"
)

// satCommand is one JSON line sent to the device bridge.
type satCommand struct {
	Cmd       string `json:"cmd"`
	Reference string `json:"ref,omitempty"`
	Key       string `json:"chave,omitempty"`
	XML       string `json:"xml,omitempty"`
}

// SATDevice drives a SAT fiscal device through its line-oriented TCP bridge.
// Each call opens a connection, writes one command and reads one answer:
//
//	OK|<key>|<number>|<protocol>[|<state>]
//	ERR|<code>|<message>
//
// The bridge remembers the reference of every command, so a query by
// reference finds a receipt whose answer was lost.
type SATDevice struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

func NewSATDevice(addr string, timeout time.Duration) *SATDevice {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SATDevice{addr: addr, timeout: timeout}
}

func (d *SATDevice) Submit(ctx context.Context, s fiscal.Submission) (*fiscal.Ack, error) {
	fields, err := d.roundTrip(ctx, "submit", satCommand{Cmd: "enviar", Reference: s.Reference, XML: string(s.Payload)})
	if err != nil {
		return nil, err
	}
	return ackFrom(fields), nil
}

func (d *SATDevice) Cancel(ctx context.Context, r fiscal.CancelRequest) (*fiscal.Ack, error) {
	fields, err := d.roundTrip(ctx, "cancel", satCommand{Cmd: "cancelar", Reference: r.Reference, Key: r.AccessKey, XML: string(r.Payload)})
	if err != nil {
		return nil, err
	}
	return ackFrom(fields), nil
}

func (d *SATDevice) Query(ctx context.Context, q fiscal.QueryRequest) (*fiscal.StatusReport, error) {
	fields, err := d.roundTrip(ctx, "query", satCommand{Cmd: "consultar", Reference: q.Reference, Key: q.AccessKey})
	if err != nil {
		return nil, err
	}
	if fields[0] != "OK" {
		if len(fields) > 1 && fields[1] == "404" {
			return &fiscal.StatusReport{AccessKey: q.AccessKey, State: fiscal.RemoteNotFound}, nil
		}
		return nil, &fiscal.TransportError{Op: "query", Err: fmt.Errorf("device error: %s", strings.Join(fields[1:], " "))}
	}
	rep := &fiscal.StatusReport{State: fiscal.RemoteAuthorized}
	if len(fields) > 1 {
		rep.AccessKey = trimKeyPrefix(fields[1])
	}
	if len(fields) > 3 {
		rep.Protocol = fields[3]
	}
	if len(fields) > 4 && fields[4] != "" {
		rep.State = fiscal.RemoteState(fields[4])
	}
	return rep, nil
}

// Ping sends the status command.
func (d *SATDevice) Ping(ctx context.Context) error {
	fields, err := d.roundTrip(ctx, "status", satCommand{Cmd: "status"})
	if err != nil {
		return err
	}
	if fields[0] != "OK" {
		return fmt.Errorf("sat device: %s", strings.Join(fields, " "))
	}
	return nil
}

func (d *SATDevice) roundTrip(ctx context.Context, op string, cmd satCommand) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, &fiscal.TransportError{Op: op, Err: fmt.Errorf("dial device: %w", err)}
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	line, err := json.Marshal(cmd)
	if err != nil {
		return nil, &fiscal.TransportError{Op: op, Err: fmt.Errorf("marshal command: %w", err)}
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, deviceIOError(op, err)
	}

	reader := bufio.NewReader(conn)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return nil, deviceIOError(op, err)
	}
	fields := strings.Split(strings.TrimRight(resp, "\r\n"), "|")
	if fields[0] != "OK" && fields[0] != "ERR" {
		return nil, &fiscal.TransportError{Op: op, MaybeDelivered: true, Err: fmt.Errorf("malformed device answer %q", resp)}
	}
	return fields, nil
}

// deviceIOError marks failures after the command may have reached the device.
func deviceIOError(op string, err error) error {
	te := &fiscal.TransportError{Op: op, MaybeDelivered: true, Err: err}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		te.Timeout = true
	}
	return te
}

func ackFrom(fields []string) *fiscal.Ack {
	if fields[0] == "ERR" {
		ack := &fiscal.Ack{Accepted: false}
		if len(fields) > 1 {
			ack.Code = fields[1]
		}
		if len(fields) > 2 {
			ack.Message = fields[2]
		}
		return ack
	}
	ack := &fiscal.Ack{Accepted: true}
	if len(fields) > 1 {
		ack.AccessKey = trimKeyPrefix(fields[1])
	}
	if len(fields) > 3 {
		ack.Protocol = fields[3]
	}
	return ack
}

func trimKeyPrefix(key string) string { return strings.TrimPrefix(key, "CFe") }

var _ fiscal.Transport = (*SATDevice)(nil)
