// Package crazyserver exposes a fleet of USB-connected Crazyflies over a
// REST API, with live log and console data streamed to websockets.
package crazyserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"
	"github.com/urfave/cli"

	"github.com/bitcraze/crazyflie-go/crazyflie"
	"github.com/bitcraze/crazyflie-go/crazyusb"
	"github.com/bitcraze/crazyflie-go/crtplink"
)

var ServeCommand = cli.Command{
	Name:   "serve",
	Usage:  "Start the HTTP/REST server",
	Action: serveCommandHandler,
	Flags: []cli.Flag{
		cli.UintFlag{
			Name:  "port, p",
			Value: 8000,
			Usage: "HTTP listening port",
		},
		cli.StringFlag{
			Name:  "static, s",
			Value: "",
			Usage: "Optional static folder. Served on /static with index.html accessible on /",
		},
	},
}

// Connector opens the transport for a new fleet member. Swapped out in
// tests for an in-memory pipe.
var Connector func() (crtplink.Link, error) = func() (crtplink.Link, error) {
	return crazyusb.Open()
}

var crazyfliesLock sync.Mutex
var crazyflies = map[int]*crazyflie.Crazyflie{}
var crazyfliesMaxIndex = 0

func serveCommandHandler(ctx *cli.Context) error {
	port := ctx.Uint("port")
	staticPath := ctx.String("static")

	r := newRouter()

	if len(staticPath) > 0 {
		r.PathPrefix("/static").Handler(http.StripPrefix("/static", http.FileServer(http.Dir(staticPath))))
		r.Handle("/", http.FileServer(http.Dir(staticPath)))
		r.Handle("/favicon.ico", http.FileServer(http.Dir(staticPath)))
	}

	defer Stop()
	log.Printf("listening on 127.0.0.1:%d", port)
	return http.ListenAndServe(fmt.Sprintf("127.0.0.1:%d", port), r)
}

func newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/fleet", fleetIndexHandler).Methods("GET")
	fleetInitRoute(r)
	paramInitRoute(r)
	logInitRoute(r)
	commanderInitRoute(r)
	socketsInitRoute(r)
	return r
}

// Stop disconnects every fleet member.
func Stop() {
	crazyfliesLock.Lock()
	defer crazyfliesLock.Unlock()
	for id, cf := range crazyflies {
		cf.Disconnect()
		delete(crazyflies, id)
	}
}

type fleetIndexResponse struct {
	Connected []string `json:"connected"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func fleetIndexHandler(w http.ResponseWriter, r *http.Request) {
	crazyfliesLock.Lock()
	connected := make([]string, 0, len(crazyflies))
	for id := range crazyflies {
		connected = append(connected, fmt.Sprintf("crazyflie%d", id))
	}
	crazyfliesLock.Unlock()
	sort.Strings(connected)

	respondJSON(w, http.StatusOK, fleetIndexResponse{Connected: connected})
}

func respondJSON(w http.ResponseWriter, httpStatus int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, r *http.Request, httpStatus int, msg string) {
	respondJSON(w, httpStatus, errorResponse{Error: msg})
}

// crazyflieHandleFunc resolves the {id} route variable into a connected
// fleet member before invoking the handler.
func crazyflieHandleFunc(handler func(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		cfid := -1
		fmt.Sscanf(vars["id"], "%d", &cfid)

		crazyfliesLock.Lock()
		cf, ok := crazyflies[cfid]
		crazyfliesLock.Unlock()
		if !ok {
			respondError(w, r, http.StatusNotFound, fmt.Sprintf("Crazyflie %d not found!", cfid))
			return
		}

		handler(w, r, cfid, cf)
	}
}
