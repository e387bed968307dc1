package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// ── Grants ───────────────────────────────────────────────────────────────────

func grantRequestFromWire(req types.GrantRequest) (service.GrantRequest, error) {
	start, err := parseTime("start", req.Start)
	if err != nil {
		return service.GrantRequest{}, err
	}
	end, err := parseTime("end", req.End)
	if err != nil {
		return service.GrantRequest{}, err
	}
	return service.GrantRequest{
		PIN:     req.PIN,
		Name:    req.Name,
		Start:   start,
		End:     end,
		Devices: req.Devices,
	}, nil
}

func grantResponseToWire(o service.GrantOutcome) types.GrantResponse {
	resp := types.GrantResponse{
		OK:      true,
		PIN:     o.PIN,
		Name:    o.Name,
		Start:   o.Start.Format(time.RFC3339),
		End:     o.End.Format(time.RFC3339),
		Devices: make([]types.GrantDeviceResult, 0, len(o.Devices)),
	}
	for _, d := range o.Devices {
		resp.Devices = append(resp.Devices, types.GrantDeviceResult{
			Serial:    d.Serial,
			NoOp:      d.NoOp,
			Scheduled: d.Scheduled,
		})
	}
	return resp
}

func grantViewToWire(g service.Grant) types.GrantView {
	return types.GrantView{
		PIN:              g.PIN,
		Serial:           g.Serial,
		Name:             g.Name,
		Start:            g.Start.Format(time.RFC3339),
		End:              g.End.Format(time.RFC3339),
		RemainingSeconds: int64(g.Remaining / time.Second),
	}
}

// ── Backup ───────────────────────────────────────────────────────────────────

func backupOptionsFromWire(req types.BackupRequest) (service.BackupOptions, error) {
	opts := service.BackupOptions{
		Users:      req.Users,
		AttLogs:    req.AttLogs,
		Biometrics: req.Biometrics,
		Faces:      req.Faces,
		Config:     req.Config,
	}
	var err error
	if strings.TrimSpace(req.From) != "" {
		if opts.From, err = parseTime("from", req.From); err != nil {
			return opts, err
		}
	}
	if strings.TrimSpace(req.To) != "" {
		if opts.To, err = parseTime("to", req.To); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp", field)
	}
	return t, nil
}
