package domain

import "fmt"

// OwnerKind tells which identity owns a cart
type OwnerKind string

const (
	OwnerAnonymous OwnerKind = "anonymous"
	OwnerUser      OwnerKind = "user"
)

// CartOwner is either Anonymous(session token) or User(user id), never both.
// Build it with AnonymousOwner or UserOwner.
type CartOwner struct {
	Kind OwnerKind `bson:"kind" json:"kind"`
	ID   string    `bson:"id" json:"id"`
}

func AnonymousOwner(token string) CartOwner {
	return CartOwner{Kind: OwnerAnonymous, ID: token}
}

func UserOwner(userID string) CartOwner {
	return CartOwner{Kind: OwnerUser, ID: userID}
}

func (o CartOwner) IsAnonymous() bool {
	return o.Kind == OwnerAnonymous
}

func (o CartOwner) Valid() bool {
	return o.ID != "" && (o.Kind == OwnerAnonymous || o.Kind == OwnerUser)
}

// Key is the storage key of the owner, unique across both kinds
func (o CartOwner) Key() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

func (o CartOwner) String() string {
	return o.Key()
}
