package crazyserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// outMessage is the envelope for everything streamed to a socket: the
// source names what produced the data (for example "crazyflie0/log/1").
type outMessage struct {
	Source string      `json:"source"`
	Data   interface{} `json:"data"`
}

type socket struct {
	socketType string
	name       string
	out        chan outMessage
}

type socketIndexResponse struct {
	Sockets []string `json:"sockets"`
}

var socketsLock sync.Mutex
var sockets = map[string]socket{}
var socketsMaxIndex = 0

func socketsInitRoute(r *mux.Router) {
	r.HandleFunc("/sockets", socketsIndexHandler).Methods("GET")
	r.HandleFunc("/sockets/websocket", websocketHandler).Methods("GET")
}

func socketsIndexHandler(w http.ResponseWriter, r *http.Request) {
	socketsLock.Lock()
	resp := socketIndexResponse{Sockets: make([]string, 0, len(sockets))}
	for _, sk := range sockets {
		resp.Sockets = append(resp.Sockets, sk.socketType+"/"+sk.name)
	}
	socketsLock.Unlock()

	respondJSON(w, http.StatusOK, resp)
}

// socketSendData broadcasts to every active socket. A socket too slow to
// keep up loses messages rather than holding up the producer.
func socketSendData(source string, data interface{}) {
	message := outMessage{Source: source, Data: data}

	socketsLock.Lock()
	for _, sk := range sockets {
		select {
		case sk.out <- message:
		default:
		}
	}
	socketsLock.Unlock()
}

func socketRemove(name string) {
	socketsLock.Lock()
	if sk, ok := sockets[name]; ok {
		delete(sockets, name)
		close(sk.out)
	}
	socketsLock.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	socketsLock.Lock()
	name := fmt.Sprintf("websocket%d", socketsMaxIndex)
	socketsMaxIndex++
	sk := socket{
		socketType: "websocket",
		name:       name,
		out:        make(chan outMessage, 64),
	}
	sockets[name] = sk
	socketsLock.Unlock()

	// writer: drains the out queue into the websocket
	go func() {
		for message := range sk.out {
			if err := conn.WriteJSON(message); err != nil {
				log.Println(name, "write error, disconnecting")
				conn.Close()
				socketRemove(name)
				return
			}
		}
		conn.Close()
	}()

	// reader: only watches for the peer going away
	go func() {
		for {
			var message json.RawMessage
			if err := conn.ReadJSON(&message); err != nil {
				socketRemove(name)
				return
			}
		}
	}()
}
