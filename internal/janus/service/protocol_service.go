package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Ack is the fixed body for every successful device exchange.
const Ack = "OK"

// HandshakeOptions are the transfer settings returned to a device on
// startup.
type HandshakeOptions struct {
	Delay      int // seconds between polls
	ErrorDelay int // seconds to wait after a failed exchange
	TimeZone   int // device UTC offset in hours
	TransFlag  string
	Realtime   bool
}

func DefaultHandshakeOptions() HandshakeOptions {
	return HandshakeOptions{
		Delay:      10,
		ErrorDelay: 30,
		TransFlag:  "TransData AttLog OpLog EnrollUser ChgUser EnrollFP ChgFP UserPic FACE",
		Realtime:   true,
	}
}

// ProtocolService handles device-initiated exchanges.  Every exchange
// counts as contact: it touches the registry and sweeps the ledger before
// doing anything else.
type ProtocolService struct {
	registry  *DeviceRegistry
	queue     *CommandQueue
	ledger    *CommandLedger
	ingestor  *PushIngestor
	separator string
	options   HandshakeOptions
	logger    *zap.Logger
}

type ProtocolConfig struct {
	Separator string // between framed commands; defaults to "\n"
	Options   HandshakeOptions
}

func NewProtocolService(
	reg *DeviceRegistry,
	q *CommandQueue,
	l *CommandLedger,
	in *PushIngestor,
	cfg ProtocolConfig,
	logger *zap.Logger,
) *ProtocolService {
	if cfg.Separator == "" {
		cfg.Separator = "\n"
	}
	if cfg.Options == (HandshakeOptions{}) {
		cfg.Options = DefaultHandshakeOptions()
	}
	return &ProtocolService{
		registry:  reg,
		queue:     q,
		ledger:    l,
		ingestor:  in,
		separator: cfg.Separator,
		options:   cfg.Options,
		logger:    logger,
	}
}

func (s *ProtocolService) contact(ctx context.Context, sn, remote string) (string, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return "", err
	}
	if err := s.registry.Touch(ctx, sn, remote); err != nil {
		return "", err
	}
	if n, err := s.ledger.SweepStale(ctx, sn); err != nil {
		s.logger.Warn("ledger sweep failed", zap.String("sn", sn), zap.Error(err))
	} else if n > 0 {
		s.logger.Info("commands went stale", zap.String("sn", sn), zap.Int("count", n))
	}
	return sn, nil
}

// Handshake answers the device's startup request with its options block.
func (s *ProtocolService) Handshake(ctx context.Context, sn, remote string) (string, error) {
	sn, err := s.contact(ctx, sn, remote)
	if err != nil {
		return "", err
	}
	o := s.options
	realtime := 0
	if o.Realtime {
		realtime = 1
	}
	lines := []string{
		"GET OPTION FROM: " + sn,
		"ATTLOGStamp=None",
		"OPERLOGStamp=9999",
		"ATTPHOTOStamp=None",
		"ErrorDelay=" + strconv.Itoa(o.ErrorDelay),
		"Delay=" + strconv.Itoa(o.Delay),
		"TransTimes=00:00;14:05",
		"TransInterval=1",
		"TransFlag=" + o.TransFlag,
		"TimeZone=" + strconv.Itoa(o.TimeZone),
		"Realtime=" + strconv.Itoa(realtime),
		"Encrypt=None",
	}
	s.logger.Info("device handshake", zap.String("sn", sn), zap.String("remote", remote))
	return strings.Join(lines, "\n") + "\n", nil
}

// Poll records the heartbeat and status, then hands the device everything
// in its queue framed as C:<id>:<command>.
func (s *ProtocolService) Poll(ctx context.Context, sn, info, remote string) (string, error) {
	sn, err := s.contact(ctx, sn, remote)
	if err != nil {
		return "", err
	}
	if info != "" {
		if err := s.registry.RecordStatus(ctx, sn, info); err != nil {
			s.logger.Warn("status update failed", zap.String("sn", sn), zap.Error(err))
		}
	}

	sent, body, err := s.queue.Dispatch(ctx, sn, remote, s.separator)
	if err != nil {
		return "", err
	}
	if len(sent) == 0 {
		return Ack, nil
	}
	s.logger.Info("commands delivered",
		zap.String("sn", sn), zap.Int("count", len(sent)), zap.Int("bytes", len(body)))
	return body, nil
}

// Push ingests a data upload.  The device always gets Ack; the returned
// summary and error are for logging only.
func (s *ProtocolService) Push(ctx context.Context, sn, table, body, remote string) (IngestSummary, error) {
	sn, err := s.contact(ctx, sn, remote)
	if err != nil {
		return IngestSummary{}, err
	}
	return s.ingestor.Ingest(ctx, sn, table, body)
}

// ReportResults marks the ids in a completion report executed.  Each line
// looks like ID=12&Return=0&CMD=DATA.
func (s *ProtocolService) ReportResults(ctx context.Context, sn, body, remote string) (int, error) {
	sn, err := s.contact(ctx, sn, remote)
	if err != nil {
		return 0, err
	}
	results := ParseCommandResults(body)
	if len(results) == 0 {
		return 0, nil
	}
	return s.ledger.RecordResults(ctx, sn, results)
}

// Ping is the device's connectivity test.
func (s *ProtocolService) Ping(ctx context.Context, sn, remote string) error {
	sn, err := s.contact(ctx, sn, remote)
	if err != nil {
		return err
	}
	return s.registry.RecordConnectivityTest(ctx, sn)
}

// ParseCommandResults reads a completion report.  Lines without a
// numeric ID are skipped.
func ParseCommandResults(body string) []CommandResult {
	var out []CommandResult
	for _, line := range SplitLines(body) {
		// CMD echoes raw command text, which is not valid query syntax.
		head, _, _ := strings.Cut(strings.TrimSpace(line), "&CMD=")
		q, _ := url.ParseQuery(head)
		id, err := strconv.ParseInt(strings.TrimSpace(q.Get("ID")), 10, 64)
		if err != nil {
			continue
		}
		r := CommandResult{ID: id}
		if v := strings.TrimSpace(q.Get("Return")); v != "" {
			if code, err := strconv.Atoi(v); err == nil {
				r.Return = &code
			}
		}
		out = append(out, r)
	}
	return out
}
