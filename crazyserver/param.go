package crazyserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bitcraze/crazyflie-go/crazyflie"
)

func paramInitRoute(r *mux.Router) {
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/param", crazyflieHandleFunc(paramIndex)).Methods("GET")
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/param/{group}/{name}", crazyflieHandleFunc(paramGet)).Methods("GET")
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}/param/{group}/{name}", crazyflieHandleFunc(paramSet)).Methods("PUT")
}

type paramIndexResponse struct {
	Params map[string]float64 `json:"params"`
}

func paramIndex(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	resp := paramIndexResponse{Params: make(map[string]float64)}
	for _, name := range cf.Param.Names() {
		value, err := cf.Param.GetFloat64(name)
		if err != nil {
			continue
		}
		resp.Params[name] = value
	}
	respondJSON(w, http.StatusOK, resp)
}

type paramValueResponse struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Type     string  `json:"type"`
	Writable bool    `json:"writable"`
}

func paramName(r *http.Request) string {
	vars := mux.Vars(r)
	return vars["group"] + "." + vars["name"]
}

func paramGet(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	name := paramName(r)

	value, err := cf.Param.Get(name)
	if err != nil {
		respondError(w, r, http.StatusNotFound, fmt.Sprintf("Parameter %q not found", name))
		return
	}
	writable, _ := cf.Param.IsWritable(name)

	respondJSON(w, http.StatusOK, paramValueResponse{
		Name:     name,
		Value:    value.Float64Lossy(),
		Type:     value.Type.String(),
		Writable: writable,
	})
}

type paramSetRequest struct {
	Value *float64 `json:"value"`
}

func paramSet(w http.ResponseWriter, r *http.Request, cfid int, cf *crazyflie.Crazyflie) {
	name := paramName(r)

	var req paramSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		respondError(w, r, http.StatusBadRequest, "Bad request!")
		return
	}

	switch err := cf.Param.SetFloat64(name, *req.Value); err {
	case nil:
	case crazyflie.ErrorNotFound:
		respondError(w, r, http.StatusNotFound, fmt.Sprintf("Parameter %q not found", name))
		return
	case crazyflie.ErrorAccessDenied:
		respondError(w, r, http.StatusForbidden, fmt.Sprintf("Parameter %q is read-only", name))
		return
	default:
		respondError(w, r, http.StatusBadGateway, fmt.Sprint(err))
		return
	}

	value, _ := cf.Param.GetFloat64(name)
	writable, _ := cf.Param.IsWritable(name)
	valueType, _ := cf.Param.Type(name)
	respondJSON(w, http.StatusOK, paramValueResponse{
		Name:     name,
		Value:    value,
		Type:     valueType.String(),
		Writable: writable,
	})
}
