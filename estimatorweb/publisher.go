package estimatorweb

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/BradleyConlin/northstrike-training/telemetry"
)

// Publisher pushes frames to a remote room. It is a telemetry.Sink.
type Publisher struct {
	u   url.URL
	c   *websocket.Conn
	log logrus.FieldLogger
}

// NewPublisher connects to the room served at host (for example "localhost:8000")
func NewPublisher(host string, log logrus.FieldLogger) (p *Publisher, err error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	p = &Publisher{
		u:   url.URL{Scheme: "ws", Host: host, Path: Path},
		log: log.WithField("component", "estimatorweb"),
	}
	if err = p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() (err error) {
	p.c, _, err = websocket.DefaultDialer.Dial(p.u.String(), nil)
	return
}

// Send publishes one frame. On a write failure the frame is dropped and the
// connection re-dialed for the next one.
func (p *Publisher) Send(f *Frame) error {
	msg, err := json.Marshal(f)
	if err != nil {
		p.log.WithError(err).Warn("error marshalling frame")
		return err
	}
	if p.c == nil {
		if err := p.connect(); err != nil {
			return fmt.Errorf("estimatorweb: reconnect: %w", err)
		}
	}
	if err := p.c.WriteMessage(websocket.TextMessage, msg); err != nil {
		p.log.WithError(err).Warn("error writing to websocket")
		p.c.Close()
		err2 := p.connect()
		if err2 != nil {
			p.c = nil
		}
		return fmt.Errorf("estimatorweb: %v: %v", err, err2)
	}
	return nil
}

// Emit implements telemetry.Sink
func (p *Publisher) Emit(e telemetry.Emission) error {
	return p.Send(NewFrame(e))
}

// Close says goodbye to the room and closes the connection
func (p *Publisher) Close() error {
	if p.c == nil {
		return nil
	}
	defer p.c.Close()
	return p.c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// RoomSink broadcasts frames straight into an in-process room
type RoomSink struct {
	Room *Room
}

// Emit implements telemetry.Sink
func (s RoomSink) Emit(e telemetry.Emission) error {
	msg, err := json.Marshal(NewFrame(e))
	if err != nil {
		return err
	}
	s.Room.Broadcast(msg)
	return nil
}
