package crazyserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bitcraze/crazyflie-go/crazyflie"
)

func fleetInitRoute(r *mux.Router) {
	r.HandleFunc("/fleet", fleetAddHandler).Methods("POST")
	r.HandleFunc("/fleet/crazyflie{id:[0-9]+}", fleetRemoveHandler).Methods("DELETE")
}

type fleetAddResponse struct {
	Location string `json:"location"`
}

func fleetAddHandler(w http.ResponseWriter, r *http.Request) {
	cfid, err := AddCrazyflie()
	if err != nil {
		respondError(w, r, http.StatusNotFound, fmt.Sprintf("Cannot connect to Crazyflie: %q", err))
		return
	}

	location := fmt.Sprintf("/fleet/crazyflie%d", cfid)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(fleetAddResponse{Location: location})
}

func fleetRemoveHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cfid := -1
	fmt.Sscanf(vars["id"], "%d", &cfid)

	if err := RemoveCrazyflie(cfid); err != nil {
		respondError(w, r, http.StatusNotFound, fmt.Sprint(err))
		return
	}
	respondJSON(w, http.StatusOK, struct{}{})
}

// AddCrazyflie connects a new vehicle through the configured Connector and
// adds it to the fleet. Returns the fleet index of the new member.
func AddCrazyflie() (int, error) {
	link, err := Connector()
	if err != nil {
		return -1, err
	}

	cf, err := crazyflie.Connect(link)
	if err != nil {
		log.Printf("Error adding crazyflie: %s", err)
		return -1, err
	}

	crazyfliesLock.Lock()
	cfid := crazyfliesMaxIndex
	crazyfliesMaxIndex++
	crazyflies[cfid] = cf
	crazyfliesLock.Unlock()

	go streamConsole(cfid, cf)
	go reapOnDisconnect(cfid, cf)

	return cfid, nil
}

// RemoveCrazyflie disconnects the fleet member cfid and drops it from the
// fleet.
func RemoveCrazyflie(cfid int) error {
	crazyfliesLock.Lock()
	cf, ok := crazyflies[cfid]
	if ok {
		delete(crazyflies, cfid)
	}
	crazyfliesLock.Unlock()

	if !ok {
		return fmt.Errorf("Crazyflie %d not found!", cfid)
	}
	cf.Disconnect()
	return nil
}

// streamConsole forwards firmware console lines to the sockets until the
// connection ends.
func streamConsole(cfid int, cf *crazyflie.Crazyflie) {
	source := fmt.Sprintf("crazyflie%d/console", cfid)
	for line := range cf.Console.Lines() {
		socketSendData(source, map[string]string{"line": line})
	}
}

// reapOnDisconnect drops a member from the fleet when its link dies
// underneath it, so the index never lists dead vehicles.
func reapOnDisconnect(cfid int, cf *crazyflie.Crazyflie) {
	cf.Wait()
	crazyfliesLock.Lock()
	if crazyflies[cfid] == cf {
		delete(crazyflies, cfid)
	}
	crazyfliesLock.Unlock()
}
