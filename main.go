package main

import "workstories/internal/app"

func main() {
	app.Main()
}
