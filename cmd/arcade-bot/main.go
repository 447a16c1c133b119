// arcade-bot drives a running arcade server with simulated players. It can
// create its own session (with -create and a teacher token or signing secret)
// or fill the lobby of an existing one (-code). Each bot joins over REST,
// attaches over WebSocket, dies on a randomized schedule, and answers the
// review questions it is served with a configurable accuracy.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"

	"github.com/reviewarcade/server/internal/auth"
	"github.com/reviewarcade/server/internal/protocol"
)

type botConfig struct {
	Server      string
	Code        string
	Create      bool
	JWT         string
	JWTSecret   string
	JWTIssuer   string
	GameType    string
	Minutes     int
	Players     int
	Duration    time.Duration
	DeathEvery  time.Duration
	Accuracy    float64
	ReportEvery time.Duration
	DialTimeout time.Duration
}

// stats are shared across all bot goroutines. Atomics only.
type stats struct {
	playersActive  int64
	playersFailed  int64
	deathsSent     int64
	questionsSeen  int64
	answersCorrect int64
	answersWrong   int64
	liveUpdates    int64
	errors         int64
}

var (
	cfg   *botConfig
	stat  stats
	start time.Time
)

func main() {
	cfg = parseFlags()
	start = time.Now()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	api := &apiClient{
		base: strings.TrimRight(cfg.Server, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}

	code := strings.ToUpper(cfg.Code)
	var host *hostConn

	if cfg.Create {
		token, err := teacherToken()
		if err != nil {
			pterm.Error.Printfln("cannot create a session: %v", err)
			os.Exit(1)
		}
		created, err := api.createSession(token)
		if err != nil {
			pterm.Error.Printfln("create session: %v", err)
			os.Exit(1)
		}
		code = created.Code
		pterm.Success.Printfln("created session %s (%s, %s mode, %d minute limit)",
			created.Code, created.GameType, created.TeacherMode, created.TimeLimitSeconds/60)

		host, err = dialHost(ctx, code, token)
		if err != nil {
			pterm.Error.Printfln("host attach: %v", err)
			os.Exit(1)
		}
	} else if code == "" {
		pterm.Error.Println("either -code or -create is required")
		os.Exit(1)
	}

	pterm.Info.Printfln("server %s, session %s, %d players, accuracy %.0f%%",
		cfg.Server, code, cfg.Players, cfg.Accuracy*100)

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("joining %d players...", cfg.Players))

	var (
		ready sync.WaitGroup
		wg    sync.WaitGroup
	)
	ready.Add(cfg.Players)
	for i := 1; i <= cfg.Players; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runBot(ctx, api, code, id, &ready)
		}(i)
		// Staggered so join order, and therefore tie-breaks, are stable.
		time.Sleep(50 * time.Millisecond)
	}

	if waitOrDone(ctx, &ready) {
		spinner.Fail("interrupted before the lobby filled")
		cancel()
		wg.Wait()
		return
	}
	joined := cfg.Players - int(atomic.LoadInt64(&stat.playersFailed))
	spinner.Success(fmt.Sprintf("%d of %d players in the lobby", joined, cfg.Players))

	if host != nil {
		if joined == 0 {
			pterm.Error.Println("no players joined; not starting the session")
			cancel()
			wg.Wait()
			return
		}
		host.send(protocol.StartSession{Envelope: protocol.Envelope{Type: protocol.TypeStartSession}})
		pterm.Info.Printfln("session started; playing for %s", cfg.Duration)
	} else {
		pterm.Info.Println("waiting for the teacher to start the session")
	}

	reportTicker := time.NewTicker(cfg.ReportEvery)
	defer reportTicker.Stop()

	deadline := time.NewTimer(cfg.Duration)
	defer deadline.Stop()

	var ended *protocol.SessionEnded
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-reportTicker.C:
			printReport()
		case <-deadline.C:
			if host != nil {
				host.send(protocol.EndSession{Envelope: protocol.Envelope{Type: protocol.TypeEndSession}})
			} else {
				pterm.Warning.Printfln("%s elapsed without session_ended; disconnecting", cfg.Duration)
				break loop
			}
		case ended = <-endedCh:
			break loop
		}
	}

	cancel()
	wg.Wait()
	if host != nil {
		host.close()
	}

	printReport()
	if ended != nil {
		printFinal(ended)
	}
}

func parseFlags() *botConfig {
	c := &botConfig{}

	flag.StringVar(&c.Server, "server", getEnv("ARCADE_BOT_SERVER", "http://localhost:8080"), "Arcade server base URL")
	flag.StringVar(&c.Code, "code", getEnv("ARCADE_BOT_CODE", ""), "Session code to join")
	flag.BoolVar(&c.Create, "create", false, "Create a session before joining")
	flag.StringVar(&c.JWT, "jwt", getEnv("ARCADE_BOT_JWT", ""), "Teacher bearer token (for -create)")
	flag.StringVar(&c.JWTSecret, "jwt-secret", getEnv("ARCADE_JWT_SECRET", ""), "HMAC secret to mint a teacher token locally")
	flag.StringVar(&c.JWTIssuer, "jwt-issuer", getEnv("ARCADE_JWT_ISSUER", ""), "Issuer claim for minted tokens")
	flag.StringVar(&c.GameType, "game", "snake", "Game type for created sessions")
	flag.IntVar(&c.Minutes, "minutes", 15, "Time limit in minutes for created sessions")
	flag.IntVar(&c.Players, "players", getEnvInt("ARCADE_BOT_PLAYERS", 8), "Number of bot players")
	flag.DurationVar(&c.Duration, "duration", 2*time.Minute, "How long to play before ending the session")
	flag.DurationVar(&c.DeathEvery, "death-every", 6*time.Second, "Mean interval between deaths per player")
	flag.Float64Var(&c.Accuracy, "accuracy", 0.85, "Probability a bot answers correctly")
	flag.DurationVar(&c.ReportEvery, "report-every", 10*time.Second, "Stats report interval")
	flag.DurationVar(&c.DialTimeout, "dial-timeout", 10*time.Second, "WebSocket handshake timeout")

	flag.Parse()

	if c.Players < 1 {
		c.Players = 1
	}
	if c.Accuracy < 0 || c.Accuracy > 1 {
		c.Accuracy = 0.85
	}
	return c
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// teacherToken returns the token to authenticate session creation and the
// host socket: the -jwt flag verbatim, or one minted from -jwt-secret.
func teacherToken() (string, error) {
	if cfg.JWT != "" {
		return cfg.JWT, nil
	}
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("-create needs -jwt or -jwt-secret")
	}
	mgr, err := auth.NewManager(cfg.JWTSecret, nil, cfg.JWTIssuer)
	if err != nil {
		return "", err
	}
	return mgr.Generate("bot-teacher", "Arcade Bot", 2*time.Hour)
}

// --- REST client ---

type apiClient struct {
	base string
	http *http.Client
}

type createdSession struct {
	SessionID        string `json:"session_id"`
	Code             string `json:"code"`
	GameType         string `json:"game_type"`
	TeacherMode      string `json:"teacher_mode"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
}

type joinedPlayer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PlayerToken string `json:"player_token"`
}

func (a *apiClient) createSession(token string) (*createdSession, error) {
	body := map[string]any{
		"game_type":          cfg.GameType,
		"teacher_mode":       "monitor",
		"time_limit_minutes": cfg.Minutes,
		"max_players":        min(max(cfg.Players, 5), 100),
		"question_source":    "math",
	}
	out := &createdSession{}
	if err := a.post("/api/reviewarcade/sessions", token, body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *apiClient) join(code, name string) (*joinedPlayer, error) {
	out := &joinedPlayer{}
	path := fmt.Sprintf("/api/reviewarcade/sessions/%s/join", code)
	if err := a.post(path, "", map[string]any{"name": name}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *apiClient) post(path, bearer string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, a.base+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.NewDecoder(resp.Body).Decode(&detail) == nil && detail.Detail != "" {
			return fmt.Errorf("%s: %s", resp.Status, detail.Detail)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- WebSocket plumbing shared by bots and the host ---

func dialWS(code string) (*websocket.Conn, error) {
	u, err := url.Parse(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/reviewarcade/" + code

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
		// TCP keep-alive so idle lobby connections survive load balancers.
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, network, addr)
		},
	}

	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return ws, nil
}

const readTimeout = 60 * time.Second

// endedCh delivers the first session_ended any connection sees.
var endedCh = make(chan *protocol.SessionEnded, 1)

func reportEnded(m *protocol.SessionEnded) {
	select {
	case endedCh <- m:
	default:
	}
}

// --- Host connection ---

type hostConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func dialHost(ctx context.Context, code, token string) (*hostConn, error) {
	ws, err := dialWS(code)
	if err != nil {
		return nil, err
	}
	h := &hostConn{ws: ws}
	h.send(protocol.Init{
		Envelope: protocol.Envelope{Type: protocol.TypeInit},
		Role:     protocol.RoleHost,
		Token:    token,
	})

	// First frame is host_state on success, error on a bad token.
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, err
	}
	msg, werr := protocol.DecodeServer(data)
	if werr != nil {
		ws.Close()
		return nil, fmt.Errorf("unexpected first frame: %s", werr.Message)
	}
	if em, ok := msg.(*protocol.ErrorMessage); ok {
		ws.Close()
		return nil, fmt.Errorf("%s: %s", em.Code, em.Message)
	}

	go h.readLoop(ctx)
	return h, nil
}

func (h *hostConn) readLoop(ctx context.Context) {
	defer h.close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := h.ws.ReadMessage()
		if err != nil {
			return
		}
		h.ws.SetReadDeadline(time.Now().Add(readTimeout))

		msg, werr := protocol.DecodeServer(data)
		if werr != nil {
			atomic.AddInt64(&stat.errors, 1)
			continue
		}
		switch m := msg.(type) {
		case *protocol.Ping:
			h.send(protocol.Pong{Envelope: protocol.Envelope{Type: protocol.TypePong}, T: m.T})
		case *protocol.SessionEnded:
			reportEnded(m)
			return
		case *protocol.ErrorMessage:
			atomic.AddInt64(&stat.errors, 1)
			pterm.Warning.Printfln("host: %s: %s", m.Code, m.Message)
		}
	}
}

func (h *hostConn) send(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.ws.WriteMessage(websocket.TextMessage, data)
}

func (h *hostConn) close() {
	h.closeOnce.Do(func() {
		h.ws.Close()
	})
}

// --- Bot players ---

type bot struct {
	id        int
	name      string
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	playing atomic.Bool // session is running
	pending atomic.Bool // waiting on a question or its verdict
}

// runBot joins over REST, attaches over WebSocket, then plays until the
// session ends or ctx is canceled. ready.Done is called exactly once, whether
// the join succeeded or not.
func runBot(ctx context.Context, api *apiClient, code string, id int, ready *sync.WaitGroup) {
	b := &bot{
		id:   id,
		name: fmt.Sprintf("Bot %d", id),
		done: make(chan struct{}),
	}

	readySignaled := false
	signalReady := func() {
		if !readySignaled {
			readySignaled = true
			ready.Done()
		}
	}
	defer signalReady()

	joined, err := api.join(code, b.name)
	if err != nil {
		atomic.AddInt64(&stat.playersFailed, 1)
		pterm.Warning.Printfln("%s: join failed: %v", b.name, err)
		return
	}

	ws, err := dialWS(code)
	if err != nil {
		atomic.AddInt64(&stat.playersFailed, 1)
		pterm.Warning.Printfln("%s: %v", b.name, err)
		return
	}
	b.ws = ws
	defer b.close()

	b.send(protocol.Init{
		Envelope: protocol.Envelope{Type: protocol.TypeInit},
		Role:     protocol.RolePlayer,
		Token:    joined.PlayerToken,
		PlayerID: joined.ID,
	})

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		atomic.AddInt64(&stat.playersFailed, 1)
		return
	}
	msg, werr := protocol.DecodeServer(data)
	if werr != nil {
		atomic.AddInt64(&stat.playersFailed, 1)
		return
	}
	state, ok := msg.(*protocol.PlayerState)
	if !ok {
		if em, isErr := msg.(*protocol.ErrorMessage); isErr {
			pterm.Warning.Printfln("%s: attach rejected: %s", b.name, em.Message)
		}
		atomic.AddInt64(&stat.playersFailed, 1)
		return
	}

	atomic.AddInt64(&stat.playersActive, 1)
	defer atomic.AddInt64(&stat.playersActive, -1)
	signalReady()

	if state.Status == "active" {
		b.playing.Store(true)
	}
	if state.Question != nil {
		b.pending.Store(true)
		b.answer(state.Question.QuestionID, state.Question.Text, state.Question.Options)
	}

	go b.gameLoop(ctx)
	b.readLoop(ctx)
}

func (b *bot) readLoop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := b.ws.ReadMessage()
		if err != nil {
			return
		}
		b.ws.SetReadDeadline(time.Now().Add(readTimeout))

		msg, werr := protocol.DecodeServer(data)
		if werr != nil {
			atomic.AddInt64(&stat.errors, 1)
			continue
		}

		switch m := msg.(type) {
		case *protocol.Ping:
			b.send(protocol.Pong{Envelope: protocol.Envelope{Type: protocol.TypePong}, T: m.T})
		case *protocol.SessionStarted:
			b.playing.Store(true)
		case *protocol.SessionPaused:
			b.playing.Store(false)
		case *protocol.SessionResumed:
			b.playing.Store(true)
		case *protocol.SessionEnded:
			reportEnded(m)
			return
		case *protocol.QuestionMessage:
			atomic.AddInt64(&stat.questionsSeen, 1)
			b.answer(m.QuestionID, m.Text, m.Options)
		case *protocol.AnswerCorrect:
			atomic.AddInt64(&stat.answersCorrect, 1)
			b.pending.Store(false)
		case *protocol.AnswerWrong:
			atomic.AddInt64(&stat.answersWrong, 1)
			b.pending.Store(false)
		case *protocol.ErrorMessage:
			atomic.AddInt64(&stat.errors, 1)
			// A death rejected in the pause race, or an answer window that
			// lapsed, leaves no verdict to clear the flag.
			if m.Code == protocol.ErrNotAccepting || m.Code == protocol.ErrExpired {
				b.pending.Store(false)
			}
		}
	}
}

// gameLoop fakes a play session: the run score climbs every second, a live
// score_update streams to the host, and after a randomized lifespan the bot
// dies and waits for its question.
func (b *bot) gameLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	runScore := 0
	alive := 0
	lifespan := b.nextLifespan()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			if !b.playing.Load() || b.pending.Load() {
				continue
			}
			runScore += 10 + rand.Intn(40)
			alive++

			if alive >= lifespan {
				b.pending.Store(true)
				b.send(protocol.Death{
					Envelope: protocol.Envelope{Type: protocol.TypeDeath},
					Score:    runScore,
				})
				atomic.AddInt64(&stat.deathsSent, 1)
				runScore, alive = 0, 0
				lifespan = b.nextLifespan()
				continue
			}

			b.send(protocol.ScoreUpdate{
				Envelope: protocol.Envelope{Type: protocol.TypeScoreUpdate},
				Score:    runScore,
			})
			atomic.AddInt64(&stat.liveUpdates, 1)
			if rand.Float64() < 0.03 {
				b.send(protocol.SpecialEvent{
					Envelope: protocol.Envelope{Type: protocol.TypeSpecialEvent},
					Event:    "power_up",
				})
			}
		}
	}
}

// nextLifespan returns seconds until the next death, jittered around the
// configured mean so the bots do not die in lockstep.
func (b *bot) nextLifespan() int {
	mean := int(cfg.DeathEvery.Seconds())
	if mean < 2 {
		mean = 2
	}
	return mean/2 + rand.Intn(mean)
}

// answer thinks for a moment, then responds to the question. Math questions
// are solved from their text; anything else is a guess.
func (b *bot) answer(questionID, text string, options []string) {
	think := time.Duration(400+rand.Intn(1200)) * time.Millisecond
	select {
	case <-time.After(think):
	case <-b.done:
		return
	}

	b.send(protocol.Answer{
		Envelope:    protocol.Envelope{Type: protocol.TypeAnswer},
		QuestionID:  questionID,
		AnswerIndex: chooseAnswer(text, options),
		TimeMS:      think.Milliseconds(),
	})
}

func chooseAnswer(text string, options []string) int {
	if len(options) == 0 {
		return 0
	}
	correct := -1
	if v, ok := solveMath(text); ok {
		want := strconv.Itoa(v)
		for i, opt := range options {
			if opt == want {
				correct = i
				break
			}
		}
	}
	if correct == -1 || len(options) == 1 {
		return rand.Intn(len(options))
	}
	if rand.Float64() < cfg.Accuracy {
		return correct
	}
	wrong := rand.Intn(len(options) - 1)
	if wrong >= correct {
		wrong++
	}
	return wrong
}

// solveMath evaluates generated question text such as "7 × 8 = ?". Bank
// questions fail the parse and the caller guesses instead.
func solveMath(text string) (int, bool) {
	expr, ok := strings.CutSuffix(text, " = ?")
	if !ok {
		return 0, false
	}
	for _, op := range []string{" + ", " - ", " × ", " ÷ "} {
		left, right, found := strings.Cut(expr, op)
		if !found {
			continue
		}
		a, err1 := strconv.Atoi(strings.TrimSpace(left))
		b, err2 := strconv.Atoi(strings.TrimSpace(right))
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch strings.TrimSpace(op) {
		case "+":
			return a + b, true
		case "-":
			return a - b, true
		case "×":
			return a * b, true
		case "÷":
			if b == 0 {
				return 0, false
			}
			return a / b, true
		}
	}
	return 0, false
}

func (b *bot) send(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.ws.WriteMessage(websocket.TextMessage, data)
}

func (b *bot) close() {
	b.closeOnce.Do(func() {
		b.ws.Close()
	})
}

// --- Reporting ---

// waitOrDone waits for wg, returning true if ctx was canceled first.
func waitOrDone(ctx context.Context, wg *sync.WaitGroup) bool {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return false
	case <-ctx.Done():
		return true
	}
}

func printReport() {
	correct := atomic.LoadInt64(&stat.answersCorrect)
	wrong := atomic.LoadInt64(&stat.answersWrong)
	answered := correct + wrong
	accuracy := 0.0
	if answered > 0 {
		accuracy = float64(correct) / float64(answered) * 100
	}

	pterm.Info.Printfln("[%3.0fs] players=%d deaths=%d questions=%d answered=%d correct=%.0f%% errors=%d",
		time.Since(start).Seconds(),
		atomic.LoadInt64(&stat.playersActive),
		atomic.LoadInt64(&stat.deathsSent),
		atomic.LoadInt64(&stat.questionsSeen),
		answered,
		accuracy,
		atomic.LoadInt64(&stat.errors),
	)
}

func printFinal(ended *protocol.SessionEnded) {
	pterm.Success.Printfln("session ended (%s)", ended.Reason)
	for _, e := range ended.FinalLeaderboard {
		pterm.Info.Printfln("  #%d %-12s %6d pts, best streak %d", e.Rank, e.Name, e.TotalScore, e.BestStreak)
	}
	if len(ended.Awards) > 0 {
		pterm.Info.Println("awards:")
		for _, a := range ended.Awards {
			pterm.Info.Printfln("  %-16s %s (%d)", a.Title, a.Name, a.Value)
		}
	}
}
