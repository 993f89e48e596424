package main

//go:generate swag init -g cmd/main.go -o docs
