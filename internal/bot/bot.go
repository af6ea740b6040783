package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/vidmed/consultd/internal/api"
	"github.com/vidmed/consultd/internal/config"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
	"github.com/vidmed/consultd/internal/session"
)

const joinTimeout = 30 * time.Second

var errNoDoctorOnline = errors.New("no doctor is online")

// Options configure one synthetic patient.
type Options struct {
	// ServerHost is the host:port of the consultd API.
	ServerHost string
	// AuthToken is passed in the X-Auth header, the same way a real client
	// authenticates.
	AuthToken string
	// DoctorID is the queue to join. Empty picks the first online doctor.
	DoctorID string
	// VideoFile is an IVF file published as the patient's camera track.
	VideoFile string
	// Stay is how long the bot remains in the consultation before hanging
	// up. Zero means until the doctor ends it.
	Stay time.Duration
}

// Bot is a headless patient: it authenticates against the public API, joins
// a doctor's queue over the websocket and, once invited, walks the same
// invitation -> media -> room pipeline a real client does.
type Bot struct {
	opts      Options
	client    *http.Client
	cookieJar *cookiejar.Jar

	userID   core.ParticipantID
	provider *signalProvider

	wsLock sync.Mutex
	wsConn *websocket.Conn

	sessLock sync.Mutex
	session  *session.Manager

	finished chan struct{}
	doneOnce sync.Once
}

func New(opts Options) (*Bot, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Timeout: 5 * time.Second,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	bot := &Bot{
		opts:      opts,
		client:    httpClient,
		cookieJar: jar,
		finished:  make(chan struct{}),
	}

	user, err := bot.currentUser()
	if err != nil {
		return nil, err
	}
	bot.userID = core.ParticipantID(user.ID)

	return bot, nil
}

func (bot *Bot) Close() {
	bot.client.CloseIdleConnections()

	bot.sessLock.Lock()
	sess := bot.session
	bot.sessLock.Unlock()
	if sess != nil {
		sess.HandleConsultationEnded("shutdown")
	}

	bot.wsLock.Lock()
	defer bot.wsLock.Unlock()
	if bot.wsConn != nil {
		bot.wsConn.Close()
	}
}

func (bot *Bot) Start() error {
	defer bot.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	doctorID := bot.opts.DoctorID
	if doctorID == "" {
		var err error
		doctorID, err = bot.pickDoctor()
		if err != nil {
			return err
		}
	}

	dialer := &websocket.Dialer{
		Jar:              bot.cookieJar,
		HandshakeTimeout: 45 * time.Second,
	}
	header := http.Header{}
	header.Set("X-Auth", bot.opts.AuthToken)

	c, resp, err := dialer.Dial(fmt.Sprintf("wss://%s/api/v1/ws", bot.opts.ServerHost), header)
	if err != nil {
		return err
	}
	resp.Body.Close()

	bot.wsConn = c
	bot.provider = newSignalProvider(bot.send)

	joinQueue := rpc.NewJoinQueueRpc(rpc.JoinQueueParams{
		DoctorID:  doctorID,
		PatientID: string(bot.userID),
	})
	if err := bot.send(joinQueue); err != nil {
		return err
	}
	log.Info().Str("service", "bot").Str("doctorID", doctorID).Msg("waiting in queue")

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if err := bot.readRPC(c); err != nil {
				log.Error().Err(err).Str("service", "bot").Msg("read error")
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case <-bot.finished:
			return nil
		case <-interrupt:
			log.Info().Str("service", "bot").Msg("interrupt")

			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				return err
			}

			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return nil
		}
	}
}

func (bot *Bot) readRPC(conn *websocket.Conn) error {
	_, message, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	p, err := rpc.RpcFromReader(bytes.NewReader(message))
	if err != nil {
		return err
	}

	switch p.GetMethod() {
	case rpc.QueuePositionMethod:
		msg, ok := p.(*rpc.QueuePositionRpc)
		if !ok {
			return errors.New("can't convert to queue_position rpc")
		}
		log.Info().
			Str("service", "bot").
			Int("position", msg.Params.Position).
			Int("estimatedWaitSec", msg.Params.EstimatedWaitSec).
			Msg("queue position")
	case rpc.QueueChangedMethod:
		// The push is only a hint; the authoritative snapshot is re-pulled.
		doctors, err := bot.doctors()
		if err != nil {
			log.Error().Err(err).Str("service", "bot").Msg("can't refresh doctors")
			return nil
		}
		log.Info().Str("service", "bot").Int("doctors", len(doctors)).Msg("queue changed")
	case rpc.InvitePatientMethod:
		msg, ok := p.(*rpc.InvitePatientRpc)
		if !ok {
			return errors.New("can't convert to invite_patient rpc")
		}
		go func() {
			if err := bot.accept(msg.Params); err != nil {
				log.Error().Err(err).Str("service", "bot").Msg("can't accept invitation")
				bot.finish()
			}
		}()
	case rpc.ConsultationEndedMethod:
		msg, ok := p.(*rpc.ConsultationEndedRpc)
		if !ok {
			return errors.New("can't convert to consultation_ended rpc")
		}
		bot.sessLock.Lock()
		sess := bot.session
		bot.sessLock.Unlock()
		if sess != nil {
			sess.HandleConsultationEnded(msg.Params.Reason)
		}
		bot.finish()
	case rpc.SDPOfferMethod:
		msg, ok := p.(*rpc.SDPRpc)
		if !ok {
			return errors.New("can't convert to offer rpc")
		}
		return bot.provider.handleOffer(msg.Params.SessionDescription)
	case rpc.SDPAnswerMethod:
		msg, ok := p.(*rpc.SDPRpc)
		if !ok {
			return errors.New("can't convert to answer rpc")
		}
		return bot.provider.handleAnswer(msg.Params.SessionDescription)
	case rpc.ICECandidateMethod:
		msg, ok := p.(*rpc.ICECandidateRpc)
		if !ok {
			return errors.New("can't convert to ice candidate rpc")
		}
		return bot.provider.addICECandidate(msg.Params.ICECandidateInit)
	default:
		log.Warn().Str("service", "bot").Str("method", string(p.GetMethod())).Msg("unhandled method")
	}

	return nil
}

// accept drives the invitation through the session state machine: acquire
// the synthetic camera track, fetch a token and join the room.
func (bot *Bot) accept(params rpc.InvitePatientParams) error {
	bot.provider.setDoctorID(params.DoctorID)

	sess := session.NewManager(session.ManagerOptions{
		UserID:   bot.userID,
		Role:     core.RolePatient,
		Config:   config.NewConfig().Session,
		Media:    newFileMedia(bot.opts.VideoFile, bot.userID),
		Tokens:   &apiTokens{bot: bot},
		Provider: bot.provider,
		Sink:     &countingSink{},
		Signal:   signalerFunc(bot.send),
	})

	bot.sessLock.Lock()
	bot.session = sess
	bot.sessLock.Unlock()

	if err := sess.HandleInvite(params.ConsultationID, params.RoomName); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	if err := sess.Join(ctx); err != nil {
		return err
	}
	log.Info().
		Str("service", "bot").
		Str("consultationID", params.ConsultationID).
		Str("roomName", params.RoomName).
		Msg("consultation active")

	if bot.opts.Stay > 0 {
		time.AfterFunc(bot.opts.Stay, func() {
			sess.Hangup()
			bot.finish()
		})
	}

	return nil
}

func (bot *Bot) finish() {
	bot.doneOnce.Do(func() {
		close(bot.finished)
	})
}

func (bot *Bot) send(r rpc.Rpc) error {
	p, err := r.ToJSON()
	if err != nil {
		return err
	}

	bot.wsLock.Lock()
	defer bot.wsLock.Unlock()

	if bot.wsConn == nil {
		return errors.New("websocket is not connected")
	}

	return bot.wsConn.WriteMessage(websocket.TextMessage, p)
}

func (bot *Bot) currentUser() (*core.User, error) {
	user := &core.User{}
	if err := bot.getJSON("/api/v1/current_user", user); err != nil {
		return nil, err
	}
	return user, nil
}

func (bot *Bot) doctors() ([]api.DoctorStatus, error) {
	var doctors []api.DoctorStatus
	if err := bot.getJSON("/api/v1/doctors", &doctors); err != nil {
		return nil, err
	}
	return doctors, nil
}

func (bot *Bot) pickDoctor() (string, error) {
	doctors, err := bot.doctors()
	if err != nil {
		return "", err
	}
	for _, doctor := range doctors {
		if doctor.IsOnline {
			return doctor.DoctorID, nil
		}
	}
	return "", errNoDoctorOnline
}

func (bot *Bot) getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("https://%s%s", bot.opts.ServerHost, path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Auth", bot.opts.AuthToken)

	resp, err := bot.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type signalerFunc func(rpc.Rpc) error

func (f signalerFunc) Send(r rpc.Rpc) error { return f(r) }

// apiTokens fetches room access tokens from the public API, the way a real
// client does.
type apiTokens struct {
	bot *Bot
}

func (t *apiTokens) RequestToken(ctx context.Context, identity core.ParticipantID, roomName string) (string, error) {
	body, err := json.Marshal(api.TokenRequest{RoomName: roomName})
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrToken, err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("https://%s/api/v1/tokens", t.bot.opts.ServerHost),
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrToken, err)
	}
	req.Header.Set("X-Auth", t.bot.opts.AuthToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.bot.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", core.ErrToken, resp.StatusCode)
	}

	tokenResp := &api.TokenResponse{}
	if err := json.NewDecoder(resp.Body).Decode(tokenResp); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrToken, err)
	}

	return tokenResp.Token, nil
}
