package entity

type User struct {
	ID       string `json:"id" firestore:"id"`
	Username string `json:"username" firestore:"username"`
	Email    string `json:"email" firestore:"email"`
}
