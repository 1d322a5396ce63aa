/*
Client-Server package adapted from Mat Ryer's Go Blueprints examples
see https://github.com/matryer/goblueprints
*/

package estimatorweb

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type message struct {
	from *client
	data []byte
}

type Room struct {
	// forward is a channel that holds incoming messages
	// that should be forwarded to the other clients.
	forward chan message
	// join is a channel for clients wishing to join the room.
	join chan *client
	// leave is a channel for clients wishing to leave the room.
	leave chan *client
	// clients holds all current clients in this room.
	clients map[*client]bool
	// done is closed when Run returns.
	done chan struct{}
	n    atomic.Int32
	log  logrus.FieldLogger
}

// NewRoom makes a new room that is ready to go. A nil log uses the standard logger.
func NewRoom(log logrus.FieldLogger) *Room {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Room{
		forward: make(chan message),
		join:    make(chan *client),
		leave:   make(chan *client),
		clients: make(map[*client]bool),
		done:    make(chan struct{}),
		log:     log.WithField("component", "estimatorweb"),
	}
}

// Run serves joins, leaves and broadcasts until ctx is cancelled
func (r *Room) Run(ctx context.Context) {
	defer func() {
		for c := range r.clients {
			delete(r.clients, c)
			close(c.send)
		}
		r.n.Store(0)
		close(r.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.join:
			r.clients[c] = true
			r.n.Store(int32(len(r.clients)))
			r.log.Debug("new client joined")
		case c := <-r.leave:
			if r.clients[c] {
				delete(r.clients, c)
				close(c.send)
			}
			r.n.Store(int32(len(r.clients)))
			r.log.Debug("client left")
		case msg := <-r.forward:
			// forward message to all other clients; slow ones miss it
			for c := range r.clients {
				if c == msg.from {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					r.log.Debug("client too slow, dropping message")
				}
			}
		}
	}
}

// Clients returns the number of connected clients
func (r *Room) Clients() int {
	return int(r.n.Load())
}

// Broadcast sends msg to every client. It returns false if the room has stopped.
func (r *Room) Broadcast(msg []byte) bool {
	select {
	case r.forward <- message{data: msg}:
		return true
	case <-r.done:
		return false
	}
}

const (
	socketBufferSize  = 1024
	messageBufferSize = 10
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
		room:   r,
	}
	select {
	case r.join <- c:
	case <-r.done:
		socket.Close()
		return
	}
	defer func() {
		select {
		case r.leave <- c:
		case <-r.done:
		}
	}()
	go c.write()
	c.read()
}
