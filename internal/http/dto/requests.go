package dto

type AuthTelegramRequest struct {
	InitData string `json:"init_data"`
}
