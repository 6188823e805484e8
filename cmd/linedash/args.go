package main

import "strconv"

// positionalArgs reads the optional [baud] [port] arguments. A first
// argument that is not a number is taken as the port, so both
// "linedash 57600 /dev/ttyACM0" and "linedash /dev/ttyACM0" work.
// A zero baud or empty port means the argument was not given.
func positionalArgs(args []string) (baud int, port string) {
	if len(args) >= 1 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			if n > 0 {
				baud = n
			}
		} else {
			port = args[0]
		}
	}
	if len(args) >= 2 {
		port = args[1]
	}
	return baud, port
}
