package notify

import (
	"fmt"

	"convod/pkg/models"
)

// copyLine holds per-language notification copy. %s is the actor phrase.
type copyLine struct {
	en string
	vi string
}

var notificationCopy = map[models.NotificationType]copyLine{
	models.NotifyFollow:             {"%s started following you", "%s đã theo dõi bạn"},
	models.NotifyAcceptedFollow:     {"%s accepted your follow request", "%s đã chấp nhận yêu cầu theo dõi của bạn"},
	models.NotifyLikePost:           {"%s liked your post", "%s đã thích bài viết của bạn"},
	models.NotifyCommentPost:        {"%s commented on your post", "%s đã bình luận bài viết của bạn"},
	models.NotifyReplyComment:       {"%s replied to your comment", "%s đã trả lời bình luận của bạn"},
	models.NotifySharePost:          {"%s shared your post", "%s đã chia sẻ bài viết của bạn"},
	models.NotifyRankingPage:        {"%s rated your page", "%s đã đánh giá trang của bạn"},
	models.NotifyMessagePage:        {"%s sent a message to your page", "%s đã gửi tin nhắn đến trang của bạn"},
	models.NotifyTourRequest:        {"%s requested to book your tour", "%s đã yêu cầu đặt tour của bạn"},
	models.NotifyTourAccept:         {"%s accepted your tour booking", "%s đã chấp nhận đặt tour của bạn"},
	models.NotifyTourReject:         {"%s declined your tour booking", "%s đã từ chối đặt tour của bạn"},
	models.NotifyTourUserCancel:     {"%s cancelled a tour booking", "%s đã hủy đặt tour"},
	models.NotifyTourPageCancel:     {"%s cancelled your tour booking", "%s đã hủy đặt tour của bạn"},
	models.NotifyStayRequest:        {"%s requested to book your stay", "%s đã yêu cầu đặt chỗ nghỉ của bạn"},
	models.NotifyStayAccept:         {"%s accepted your stay booking", "%s đã chấp nhận đặt chỗ nghỉ của bạn"},
	models.NotifyStayReject:         {"%s declined your stay booking", "%s đã từ chối đặt chỗ nghỉ của bạn"},
	models.NotifyStayUserCancel:     {"%s cancelled a stay booking", "%s đã hủy đặt chỗ nghỉ"},
	models.NotifyStayPageCancel:     {"%s cancelled your stay booking", "%s đã hủy đặt chỗ nghỉ của bạn"},
	models.NotifyActivityInvite:     {"%s invited you to an activity", "%s đã mời bạn tham gia hoạt động"},
	models.NotifyActivityRemove:     {"%s removed you from an activity", "%s đã xóa bạn khỏi hoạt động"},
	models.NotifyActivityJoin:       {"%s joined your activity", "%s đã tham gia hoạt động của bạn"},
	models.NotifyActivityComingSoon: {"Your activity with %s is coming up", "Hoạt động của bạn với %s sắp diễn ra"},
}

// actorPhrase renders "Alice", "Alice and 1 other" or "Alice and N others"
// from the accumulated participant list.
func actorPhrase(lang string, n *models.Notification, actorName string) string {
	others := len(n.ParticipantList()) - 1
	if others <= 0 {
		return actorName
	}
	if lang == "vi" {
		return fmt.Sprintf("%s và %d người khác", actorName, others)
	}
	if others == 1 {
		return actorName + " and 1 other"
	}
	return fmt.Sprintf("%s and %d others", actorName, others)
}

// BuildMessage renders a push payload for one device language. Unknown
// languages fall back to English; unknown types get a generic line.
func BuildMessage(lang string, n *models.Notification, actorName string) PushMessage {
	line, ok := notificationCopy[n.Type]
	if !ok {
		line = copyLine{en: "%s sent you a notification", vi: "%s đã gửi cho bạn một thông báo"}
	}
	format := line.en
	if lang == "vi" {
		format = line.vi
	}
	body := fmt.Sprintf(format, actorPhrase(lang, n, actorName))
	data := map[string]string{
		"notification_id": n.ID,
		"type":            string(n.Type),
	}
	if n.PostID != "" {
		data["post_id"] = n.PostID
	}
	if n.PageID != "" {
		data["page_id"] = n.PageID
	}
	if n.BookingID != "" {
		data["booking_id"] = n.BookingID
	}
	return PushMessage{Title: "Travelo", Body: body, Data: data}
}
