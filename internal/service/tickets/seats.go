package tickets

import (
	"fmt"
	"strconv"
	"time"
)

const seatsPerRow = 26

// SeatLabel names the n-th seat of an event (0-based): rows run A..Z, AA,
// AB, ... and each row holds seatsPerRow seats numbered from 1.
func SeatLabel(n int) string {
	row := n / seatsPerRow

	var letters []byte
	for row >= 0 {
		letters = append([]byte{byte('A' + row%26)}, letters...)
		row = row/26 - 1
	}

	return string(letters) + strconv.Itoa(n%seatsPerRow+1)
}

// TicketNumber returns TCK-{orderNumber}-{i:03d}-{unixMillis} for the i-th
// (1-based) ticket of an order.
func TicketNumber(orderNumber string, i int, at time.Time) string {
	return fmt.Sprintf("TCK-%s-%03d-%d", orderNumber, i, at.UnixMilli())
}
