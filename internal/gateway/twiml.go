package gateway

import (
	"encoding/xml"
	"net/http"
)

// receiveAck is the fax provider's control document telling it where to
// post the received fax, e.g.
// <Response><Receive action="/incoming/received"/></Response>.
type receiveAck struct {
	XMLName xml.Name   `xml:"Response"`
	Receive receiveElt `xml:"Receive"`
}

type receiveElt struct {
	Action string `xml:"action,attr"`
}

// writeReceiveAck renders the control document naming the next callback
// path to invoke.
func writeReceiveAck(w http.ResponseWriter, action string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Encode(receiveAck{Receive: receiveElt{Action: action}})
}
