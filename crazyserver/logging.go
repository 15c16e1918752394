package crazyserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/bitcraze/crazyflie-go/crazyflie"
)

func logInitRoute(r *mux.Router) {
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/log", crazyflieHandleFunc(logIndex)).Methods("GET")
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/log", crazyflieHandleFunc(logCreate)).Methods("POST")
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/log/{block:[0-9]+}", crazyflieHandleFunc(logDelete)).Methods("DELETE")
}

var logBlocksLock sync.Mutex
var logBlocks = map[int]map[uint8]*crazyflie.LogBlock{} // cfid -> block id -> block

type logIndexResponse struct {
	Variables []string `json:"variables"`
	Blocks    []uint8  `json:"blocks"`
}

func logIndex(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	resp := logIndexResponse{
		Variables: cf.Log.Names(),
		Blocks:    []uint8{},
	}
	logBlocksLock.Lock()
	for id := range logBlocks[cfid] {
		resp.Blocks = append(resp.Blocks, id)
	}
	logBlocksLock.Unlock()

	respondJSON(w, http.StatusOK, resp)
}

type logCreateRequest struct {
	Variables []string `json:"variables"`
	PeriodMS  uint     `json:"period_ms"`
}

type logCreateResponse struct {
	Block uint8 `json:"block"`
}

// logCreate registers a block, starts it, and begins streaming its samples
// to the sockets.
func logCreate(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	var req logCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Variables) == 0 || req.PeriodMS == 0 {
		respondError(w, r, http.StatusBadRequest, "Bad request!")
		return
	}

	block, err := cf.Log.CreateBlock(req.Variables...)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, fmt.Sprint(err))
		return
	}
	if err := block.Start(time.Duration(req.PeriodMS) * time.Millisecond); err != nil {
		block.Close()
		respondError(w, r, http.StatusBadRequest, fmt.Sprint(err))
		return
	}

	logBlocksLock.Lock()
	if logBlocks[cfid] == nil {
		logBlocks[cfid] = map[uint8]*crazyflie.LogBlock{}
	}
	logBlocks[cfid][block.ID()] = block
	logBlocksLock.Unlock()

	go streamSamples(cfid, block)

	respondJSON(w, http.StatusOK, logCreateResponse{Block: block.ID()})
}

func logDelete(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	vars := mux.Vars(r)
	blockID := uint8(0)
	fmt.Sscanf(vars["block"], "%d", &blockID)

	logBlocksLock.Lock()
	block := logBlocks[cfid][blockID]
	if block != nil {
		delete(logBlocks[cfid], blockID)
	}
	logBlocksLock.Unlock()

	if block == nil {
		respondError(w, r, http.StatusNotFound, fmt.Sprintf("Log block %d not found!", blockID))
		return
	}
	if err := block.Close(); err != nil {
		respondError(w, r, http.StatusBadGateway, fmt.Sprint(err))
		return
	}
	respondJSON(w, http.StatusOK, struct{}{})
}

// streamSamples pushes decoded samples to the sockets until the block is
// closed or the connection dies.
func streamSamples(cfid int, block *crazyflie.LogBlock) {
	source := fmt.Sprintf("crazyflie%d/log/%d", cfid, block.ID())
	for sample := range block.Samples() {
		if sample.Err != nil {
			continue
		}
		data := make(map[string]interface{}, len(sample.Data)+1)
		data["timestamp"] = sample.Timestamp
		for name, value := range sample.Data {
			data[name] = value.Float64Lossy()
		}
		socketSendData(source, data)
	}

	logBlocksLock.Lock()
	delete(logBlocks[cfid], block.ID())
	logBlocksLock.Unlock()
}
