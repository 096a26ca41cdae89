package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-sim/internal/models"
)

// pullInterval is how often PULL_DATA is sent to keep the route/NAT
// binding open (spec.md §4.6).
const pullInterval = 5 * time.Second

// Stats is the periodic rxnb/rxok/txnb counter block the source's
// gateway.py logs alongside its keep-alive tick: rxnb/rxok count
// uplinks handed to PushUplink and the subset actually written to the
// socket, txnb/txok count inbound PULL_RESP downlinks parsed and the
// subset published to subscribers.
type Stats struct {
	RxNb uint64
	RxOk uint64
	TxNb uint64
	TxOk uint64
}

// Adapter impersonates one gateway's concentrator: it owns the UDP
// socket dialed at the network server, stamps uplinks with a
// monotonic concentrator clock, and demultiplexes inbound PULL_RESP
// downlinks to subscribers by DevAddr-agnostic fan-out (each device
// stack filters by DevAddr).
type Adapter struct {
	conn          *net.UDPConn
	gatewayEUI    [8]byte
	startedAt     time.Time
	statsInterval time.Duration

	downlinks chan *models.DownlinkEnvelope

	rxNb, rxOk, txNb, txOk atomic.Uint64
}

// NewAdapter dials udpAddr as a UDP client and starts its concentrator
// clock at construction time. statsInterval governs how often Stats is
// logged by RunStatsLog; zero disables the periodic log (counters are
// still kept and available through Stats()).
func NewAdapter(udpAddr string, gatewayEUI [8]byte, statsInterval time.Duration) (*Adapter, error) {
	addr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("gateway: resolve %s: %w", udpAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", udpAddr, err)
	}
	return &Adapter{
		conn:          conn,
		gatewayEUI:    gatewayEUI,
		startedAt:     time.Now(),
		statsInterval: statsInterval,
		downlinks:     make(chan *models.DownlinkEnvelope, 32),
	}, nil
}

// Stats returns a snapshot of the current rxnb/rxok/txnb/txok counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		RxNb: a.rxNb.Load(),
		RxOk: a.rxOk.Load(),
		TxNb: a.txNb.Load(),
		TxOk: a.txOk.Load(),
	}
}

// RunStatsLog logs Stats every statsInterval until ctx is cancelled.
// It is a no-op if statsInterval is zero.
func (a *Adapter) RunStatsLog(ctx context.Context) {
	if a.statsInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := a.Stats()
			log.Info().
				Uint64("rxnb", s.RxNb).Uint64("rxok", s.RxOk).
				Uint64("txnb", s.TxNb).Uint64("txok", s.TxOk).
				Msg("gateway stats")
		}
	}
}

// Close closes the underlying UDP socket.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

// Downlinks returns the channel PULL_RESP frames are published on,
// after tmst-based scheduling delay, ready for the device manager to
// fan out.
func (a *Adapter) Downlinks() <-chan *models.DownlinkEnvelope {
	return a.downlinks
}

// ConcentratorTmst returns floor(elapsed_us) mod 2^32, the reference
// timestamp for both outbound rxpk and inbound txpk scheduling.
func (a *Adapter) ConcentratorTmst() uint32 {
	elapsedUs := time.Since(a.startedAt).Microseconds()
	return uint32(uint64(elapsedUs) % (1 << 32))
}

func randomToken() uint16 {
	return uint16(rand.Intn(1 << 16))
}

// PushUplink encodes env as a PUSH_DATA rxpk report and writes it to
// the socket. Write failure is logged and treated as an I/O error per
// spec.md §7: the caller still records airtime.
func (a *Adapter) PushUplink(env *models.UplinkEnvelope) error {
	a.rxNb.Add(1)
	env.ConcentratorTmst = a.ConcentratorTmst()

	report := rxpkReport{
		Tmst: env.ConcentratorTmst,
		Time: env.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		Chan: env.Channel,
		RFCh: 0,
		Freq: float64(env.Freq) / 1e6,
		Stat: 1,
		Modu: "LORA",
		Datr: datr(env.SF, env.BW),
		Codr: env.CodingRate,
		RSSI: int(env.RSSI),
		LSNR: env.SNR,
		Size: len(env.PHYPayload),
		Data: encodeData(env.PHYPayload),
	}

	body, err := json.Marshal(pushDataPayload{RXPK: []rxpkReport{report}})
	if err != nil {
		return fmt.Errorf("gateway: marshal rxpk: %w", err)
	}

	packet := append(buildHeader(randomToken(), IdentPushData, a.gatewayEUI), body...)
	if _, err := a.conn.Write(packet); err != nil {
		log.Warn().Err(err).Msg("push_data write failed")
		return err
	}
	a.rxOk.Add(1)
	return nil
}

// RunPullData sends PULL_DATA every 5s until ctx is cancelled,
// keeping the gateway's NAT/route binding open.
func (a *Adapter) RunPullData(ctx context.Context) {
	ticker := time.NewTicker(pullInterval)
	defer ticker.Stop()
	for {
		packet := buildHeader(randomToken(), IdentPullData, a.gatewayEUI)
		if _, err := a.conn.Write(packet); err != nil {
			log.Warn().Err(err).Msg("pull_data write failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunReceive reads inbound UDP packets until ctx is cancelled,
// handling PULL_RESP downlinks and logging anything else.
func (a *Adapter) RunReceive(ctx context.Context) {
	buf := make([]byte, 2048)
	go func() {
		<-ctx.Done()
		a.conn.SetReadDeadline(time.Now())
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := a.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		a.handlePacket(append([]byte(nil), buf[:n]...))
	}
}

func (a *Adapter) handlePacket(data []byte) {
	_, identifier, _, body, err := parseHeader(data)
	if err != nil {
		log.Debug().Err(err).Msg("semtech: dropping malformed packet")
		return
	}
	if identifier != IdentPullResp {
		return
	}

	var payload pullRespPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("semtech: malformed PULL_RESP JSON")
		return
	}

	phy, err := decodeData(payload.TXPK.Data)
	if err != nil {
		log.Warn().Err(err).Msg("semtech: malformed txpk.data")
		return
	}

	sf, bw, err := parseDatr(payload.TXPK.Datr)
	if err != nil {
		log.Warn().Err(err).Msg("semtech: malformed txpk.datr")
		return
	}
	a.txNb.Add(1)

	env := &models.DownlinkEnvelope{
		PHYPayload: phy,
		Freq:       uint32(payload.TXPK.Freq * 1e6),
		SF:         sf,
		BW:         bw,
		Power:      payload.TXPK.Powe,
		Tmst:       payload.TXPK.Tmst,
	}

	now := a.ConcentratorTmst()
	wait := (uint64(env.Tmst) - uint64(now)) % (1 << 32)

	if wait == 0 {
		a.publish(env)
		return
	}
	go func() {
		time.Sleep(time.Duration(wait) * time.Microsecond)
		a.publish(env)
	}()
}

func (a *Adapter) publish(env *models.DownlinkEnvelope) {
	select {
	case a.downlinks <- env:
		a.txOk.Add(1)
	default:
		log.Warn().Msg("gateway: downlink channel full, dropping")
	}
}

// parseDatr parses a "SF<n>BW<n>" data-rate identifier.
func parseDatr(s string) (sf, bw int, err error) {
	if _, err := fmt.Sscanf(s, "SF%dBW%d", &sf, &bw); err != nil {
		return 0, 0, fmt.Errorf("parse datr %q: %w", s, err)
	}
	return sf, bw, nil
}
