package mongodb

import (
	"context"
	"errors"

	"github.com/roomcast/roomcast/internal/directory"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type userDocument struct {
	ID      string `bson:"_id"`
	HotelID string `bson:"hotelId"`
	Role    string `bson:"role"`
	Name    string `bson:"name"`
	Email   string `bson:"email"`
	Active  bool   `bson:"active"`
}

type hotelDocument struct {
	ID                 string `bson:"_id"`
	Name               string `bson:"name"`
	SubscriptionStatus string `bson:"subscriptionStatus"`
}

type Directory struct {
	users  *mongo.Collection
	hotels *mongo.Collection
}

func NewDirectory(client *mongo.Client) *Directory {
	database := client.Database("roomcast")

	return &Directory{
		users:  database.Collection("users"),
		hotels: database.Collection("hotels"),
	}
}

func (d *Directory) Setup(ctx context.Context) error {
	hotelIndexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "hotelId", Value: 1}},
	}

	_, err := d.users.Indexes().CreateOne(ctx, hotelIndexModel)

	return err
}

func (d *Directory) FindUser(ctx context.Context, userID string) (directory.User, error) {
	var doc userDocument

	err := d.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return directory.User{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.User{}, err
	}

	return directory.User{
		ID:      doc.ID,
		HotelID: doc.HotelID,
		Role:    doc.Role,
		Name:    doc.Name,
		Email:   doc.Email,
		Active:  doc.Active,
	}, nil
}

func (d *Directory) FindHotel(ctx context.Context, hotelID string) (directory.Hotel, error) {
	var doc hotelDocument

	err := d.hotels.FindOne(ctx, bson.M{"_id": hotelID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return directory.Hotel{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Hotel{}, err
	}

	return directory.Hotel{
		ID:                 doc.ID,
		Name:               doc.Name,
		SubscriptionStatus: doc.SubscriptionStatus,
	}, nil
}
