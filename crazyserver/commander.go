package crazyserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bitcraze/crazyflie-go/crazyflie"
)

func commanderInitRoute(r *mux.Router) {
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/commander", crazyflieHandleFunc(commanderSet)).Methods("PUT")
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/commander/hover", crazyflieHandleFunc(commanderHover)).Methods("PUT")
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/commander/stop", crazyflieHandleFunc(commanderStop)).Methods("PUT")
}

type commanderRequest struct {
	Roll    float32 `json:"roll"`
	Pitch   float32 `json:"pitch"`
	Yawrate float32 `json:"yawrate"`
	Thrust  uint16  `json:"thrust"`
}

func commanderSet(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	var req commanderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Bad request!")
		return
	}

	if err := cf.Commander.SendSetpoint(req.Roll, req.Pitch, req.Yawrate, req.Thrust); err != nil {
		respondError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, struct{}{})
}

type hoverRequest struct {
	VX        float32 `json:"vx"`
	VY        float32 `json:"vy"`
	Yawrate   float32 `json:"yawrate"`
	ZDistance float32 `json:"zdistance"`
}

func commanderHover(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	var req hoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Bad request!")
		return
	}

	if err := cf.Commander.SendHoverSetpoint(req.VX, req.VY, req.Yawrate, req.ZDistance); err != nil {
		respondError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, struct{}{})
}

func commanderStop(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	if err := cf.Commander.SendStop(); err != nil {
		respondError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, struct{}{})
}
