// Package websocket connects browser canvases to the service over socket.io.
// Each signed-in browser joins the room of its user; server-side operations
// that touch the canvas are emitted to that room.
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Events emitted to browsers.
const (
	EventPutExternalContent = "canvas:put-external-content"
	EventCreateShape        = "canvas:create-shape"
	EventLoadSnapshot       = "canvas:load-snapshot"
	EventCatalogChanged     = "catalog:changed"
)

var errNoCanvas = errors.New("no canvas connected")

type (
	// TokenParser resolves a bearer token to a user subject.
	TokenParser func(token string) (string, error)

	Camera struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	}

	// Viewport is the camera and on-screen bounds last reported by a browser.
	Viewport struct {
		Camera Camera   `json:"camera"`
		Bounds core.Box `json:"bounds"`
	}

	emitFunc func(room, event string, args ...any) error

	Bridge struct {
		srv   *socketio.Server
		parse TokenParser
		emit  emitFunc

		mu        sync.RWMutex
		viewports map[string]Viewport
		present   map[string]int
	}
)

func roomOf(user string) string {
	return "user:" + user
}

// NewBridge creates the socket.io server. allowedOrigins are matched as
// literal origins in addition to localhost.
func NewBridge(parse TokenParser, allowedOrigins ...string) *Bridge {
	b := &Bridge{
		parse:     parse,
		viewports: make(map[string]Viewport),
		present:   make(map[string]int),
	}

	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	origins := []any{regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)}
	for _, o := range allowedOrigins {
		origins = append(origins, o)
	}
	opts.SetCors(&types.Cors{
		Origin:      origins,
		Credentials: true,
	})
	b.srv = socketio.NewServer(nil, opts)
	b.emit = func(room, event string, args ...any) error {
		return b.srv.To(socketio.Room(room)).Emit(event, args...)
	}

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	b.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		b.handleSocket(socket)
	})
	return b
}

// Server is the socket.io server to mount under /socket.io/.
func (b *Bridge) Server() *socketio.Server {
	return b.srv
}

func (b *Bridge) Close() {
	b.srv.Close(nil)
}

func (b *Bridge) handleSocket(socket *socketio.Socket) {
	var (
		mu   sync.Mutex
		user string
	)
	current := func() string {
		mu.Lock()
		defer mu.Unlock()
		return user
	}
	log := logrus.WithField("socket_id", socket.Id())

	//nolint:errcheck
	socket.On("join", func(datas ...any) {
		reply, args := splitAck(datas)
		token, _ := firstString(args)
		if token == "" {
			reply(map[string]any{"status": "error", "error": "token is required"})
			return
		}
		subject, err := b.parse(token)
		if err != nil {
			log.WithError(err).Warn("Canvas join rejected")
			reply(map[string]any{"status": "error", "error": "invalid token"})
			return
		}

		mu.Lock()
		joined := user != ""
		user = subject
		mu.Unlock()
		if joined {
			reply(map[string]any{"status": "ok", "user": subject})
			return
		}

		socket.Join(socketio.Room(roomOf(subject)))
		b.mu.Lock()
		b.present[subject]++
		b.mu.Unlock()
		log.WithField("user_id", subject).Info("Canvas joined")
		reply(map[string]any{"status": "ok", "user": subject})
	})

	//nolint:errcheck
	socket.On("viewport", func(datas ...any) {
		reply, args := splitAck(datas)
		subject := current()
		if subject == "" || len(args) == 0 {
			reply(map[string]any{"status": "error", "error": "join first"})
			return
		}
		vp, err := decodeViewport(args[0])
		if err != nil {
			reply(map[string]any{"status": "error", "error": err.Error()})
			return
		}
		b.SetViewport(subject, vp)
		reply(map[string]any{"status": "ok"})
	})

	//nolint:errcheck
	socket.On("disconnecting", func(...any) {
		subject := current()
		if subject == "" {
			return
		}
		b.mu.Lock()
		if b.present[subject] <= 1 {
			delete(b.present, subject)
		} else {
			b.present[subject]--
		}
		b.mu.Unlock()
		log.WithField("user_id", subject).Info("Canvas left")
	})

	//nolint:errcheck
	socket.On("disconnect", func(...any) {
		socket.RemoveAllListeners("")
		socket.Disconnect(true)
	})
}

// SetViewport records the latest viewport of user.
func (b *Bridge) SetViewport(user string, vp Viewport) {
	if vp.Camera.Z <= 0 {
		vp.Camera.Z = 1
	}
	b.mu.Lock()
	b.viewports[user] = vp
	b.mu.Unlock()
}

func (b *Bridge) viewport(user string) Viewport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	vp, ok := b.viewports[user]
	if !ok {
		return Viewport{Camera: Camera{Z: 1}}
	}
	return vp
}

// Connected reports whether user has at least one joined browser.
func (b *Bridge) Connected(user string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.present[user] > 0
}

// CatalogChanged tells the user's browsers to re-read the catalog.
func (b *Bridge) CatalogChanged(user string) {
	if !b.Connected(user) {
		return
	}
	if err := b.emit(roomOf(user), EventCatalogChanged); err != nil {
		logrus.WithError(err).WithField("user_id", user).Warn("Failed to notify catalog change")
	}
}

// Canvas returns the canvas of user.
func (b *Bridge) Canvas(user string) core.Canvas {
	return &canvas{bridge: b, user: user}
}

type canvas struct {
	bridge *Bridge
	user   string
}

// ScreenToPage maps a client point to page space:
// (point - bounds origin) / zoom - camera.
func (c *canvas) ScreenToPage(p core.Point) core.Point {
	vp := c.bridge.viewport(c.user)
	return core.Point{
		X: (p.X-vp.Bounds.X)/vp.Camera.Z - vp.Camera.X,
		Y: (p.Y-vp.Bounds.Y)/vp.Camera.Z - vp.Camera.Y,
	}
}

func (c *canvas) ViewportScreenBounds() core.Box {
	return c.bridge.viewport(c.user).Bounds
}

func (c *canvas) send(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.bridge.Connected(c.user) {
		return fmt.Errorf("%s: %w", errNoCanvas, core.ErrTransport)
	}
	if err := c.bridge.emit(roomOf(c.user), event, payload); err != nil {
		return fmt.Errorf("emit %s: %v: %w", event, err, core.ErrTransport)
	}
	return nil
}

func (c *canvas) PutExternalContent(ctx context.Context, point core.Point, files []core.File) error {
	encoded := make([]map[string]any, 0, len(files))
	for _, f := range files {
		encoded = append(encoded, map[string]any{
			"name": f.Name,
			"type": f.MimeType,
			"data": base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	return c.send(ctx, EventPutExternalContent, map[string]any{
		"type":  "files",
		"point": map[string]any{"x": point.X, "y": point.Y},
		"files": encoded,
	})
}

func (c *canvas) CreateShape(ctx context.Context, shape core.Shape) error {
	return c.send(ctx, EventCreateShape, map[string]any{
		"type":  shape.Type,
		"x":     shape.X,
		"y":     shape.Y,
		"props": shape.Props,
	})
}

func (c *canvas) LoadSnapshot(ctx context.Context, payload json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("snapshot is not JSON: %w", core.ErrValidation)
	}
	return c.send(ctx, EventLoadSnapshot, doc)
}

func decodeViewport(v any) (Viewport, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Viewport{}, fmt.Errorf("invalid viewport: %w", err)
	}
	var vp Viewport
	if err := json.Unmarshal(raw, &vp); err != nil {
		return Viewport{}, fmt.Errorf("invalid viewport: %w", err)
	}
	if vp.Bounds.W < 0 || vp.Bounds.H < 0 {
		return Viewport{}, errors.New("invalid viewport: negative bounds")
	}
	return vp, nil
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

// splitAck separates a trailing acknowledgement callback from the event
// arguments. Clients that sent no callback get a no-op reply.
func splitAck(datas []any) (reply func(map[string]any), args []any) {
	if n := len(datas); n > 0 {
		fn := reflect.ValueOf(datas[n-1])
		if fn.IsValid() && fn.Kind() == reflect.Func {
			return func(payload map[string]any) {
				fn.Call(ackArgs(fn.Type(), payload))
			}, datas[:n-1]
		}
	}
	return func(map[string]any) {}, datas
}

// ackArgs fills the callback's parameters: the payload goes into the first
// parameter that can hold it, everything else is zero.
func ackArgs(typ reflect.Type, payload map[string]any) []reflect.Value {
	args := make([]reflect.Value, typ.NumIn())
	placed := false
	pv := reflect.ValueOf(payload)
	for i := range args {
		in := typ.In(i)
		switch {
		case placed:
			args[i] = reflect.Zero(in)
		case in.Kind() == reflect.Slice && in.Elem().Kind() == reflect.Interface:
			args[i] = reflect.ValueOf([]any{payload}).Convert(in)
			placed = true
		case pv.Type().AssignableTo(in):
			args[i] = pv
			placed = true
		default:
			args[i] = reflect.Zero(in)
		}
	}
	return args
}
