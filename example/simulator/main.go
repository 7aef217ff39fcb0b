// Simulator plays the instrument side of the protocol against a running
// bridge: hello, status report, two observation batches, end of topic. Useful
// for exercising the full pipeline without hardware.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5050", "Bridge device listener address")
	serial := flag.String("serial", "SIM-0001", "Device serial number")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()
	log.Printf("connected to %s", *addr)

	exchange(conn, "hello", helloFrame(*serial))
	// The status report is answered with an ack and an observation request.
	exchange(conn, "status", statusFrame(3))
	readFrame(conn, "request")

	exchange(conn, "batch 1", observationFrame(1, "2026-08-20T09:15:00", 2.4, 28.1, "PT-001"))
	exchange(conn, "batch 2", observationFrame(2, "2026-08-21T10:30:00", 2.7, 30.5, "PT-001"))

	exchange(conn, "end of topic", eotFrame())
	log.Printf("transfer complete")
}

// exchange writes one frame and waits for the bridge's reply.
func exchange(conn net.Conn, label, frame string) {
	if _, err := conn.Write([]byte(frame)); err != nil {
		log.Fatalf("send %s: %v", label, err)
	}
	readFrame(conn, label+" reply")
}

func readFrame(conn net.Conn, label string) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil {
		log.Fatalf("read %s: %v", label, err)
	}
	reply := string(buf[:n])
	kind := "frame"
	switch {
	case strings.Contains(reply, "<ACK.R01>"):
		kind = "ack"
	case strings.Contains(reply, "<REQ.R01>"):
		kind = "observation request"
	}
	log.Printf("%s: got %s (%d bytes)", label, kind, n)
}

func helloFrame(serial string) string {
	return fmt.Sprintf(`<HEL.R01>
   <HDR>
       <HDR.control_id V="1"/>
       <HDR.version_id V="POCT1"/>
   </HDR>
   <DEV>
       <DEV.serial_id V="%s"/>
       <DEV.model_id V="Coag-Sense PT2"/>
   </DEV>
</HEL.R01>
`, serial)
}

func statusFrame(pending int) string {
	return fmt.Sprintf(`<DST.R01>
   <HDR>
       <HDR.control_id V="2"/>
       <HDR.version_id V="POCT1"/>
   </HDR>
   <DST>
       <DST.new_observations_qty V="%d"/>
   </DST>
</DST.R01>
`, pending)
}

func observationFrame(seq int, ts string, inr, ptSeconds float64, patientID string) string {
	return fmt.Sprintf(`<OBS.R01>
   <HDR>
       <HDR.control_id V="%d"/>
       <HDR.version_id V="POCT1"/>
   </HDR>
   <SVC>
       <SVC.observation_dttm V="%s"/>
       <SVC.sequence_nbr V="%d"/>
       <SVC.status_cd V="AUT"/>
       <PT>
           <PT.patient_id V="%s"/>
       </PT>
       <OBS>
           <OBS.observation_id V="34714-6"/>
           <OBS.value V="%.1f"/>
       </OBS>
       <OBS>
           <OBS.observation_id V="5902-2"/>
           <OBS.value V="%.1f"/>
       </OBS>
       <RGT>
           <RGT.lot_number V="LOT-77"/>
       </RGT>
   </SVC>
</OBS.R01>
`, 10+seq, ts, seq, patientID, inr, ptSeconds)
}

func eotFrame() string {
	return `<EOT.R01>
   <HDR>
       <HDR.control_id V="99"/>
       <HDR.version_id V="POCT1"/>
   </HDR>
</EOT.R01>
`
}
