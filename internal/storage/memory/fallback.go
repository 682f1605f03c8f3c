package memory

import "github.com/ButyrinIA/community/internal/models"

// FallbackTags - теги, которые показываются, когда список тегов не загрузился
var FallbackTags = []string{"感统训练", "自闭症", "视障", "营养搭配", "教育", "日常护理"}

func fallbackPosts() []*models.Post {
	return []*models.Post{
		{
			Title:   "自闭症儿童感统训练的日常小技巧",
			Content: "分享一些在家就能做的感统训练方法，帮助孩子提升专注力和协调能力。感统训练是帮助自闭症儿童改善感觉统合能力的重要方法。",
			Author: models.Author{
				Nickname:  "小雨妈妈",
				AvatarURL: "https://images.unsplash.com/photo-1494790108755-2616b612b786?w=100&h=100&fit=crop&crop=face",
			},
			MediaURLs: []string{
				"https://images.unsplash.com/photo-1503454537195-1dcabb73ffb9?w=300&h=200&fit=crop",
				"https://images.unsplash.com/photo-1558618666-fcd25c85cd64?w=300&h=200&fit=crop",
			},
			Tags:          []string{"感统训练", "自闭症", "日常护理"},
			Likes:         128,
			CommentsCount: 23,
		},
		{
			Title:   "视障儿童学习盲文的心得体会",
			Content: "从零开始学习盲文的经历分享，包括选择教材、学习方法和注意事项。作为视障儿童的家长，我深知盲文学习的重要性。",
			Author: models.Author{
				Nickname:  "阳光爸爸",
				AvatarURL: "https://images.unsplash.com/photo-1472099645785-5658abf4ff4e?w=100&h=100&fit=crop&crop=face",
			},
			MediaURLs:     []string{"https://images.unsplash.com/photo-1481627834876-b7833e8f5570?w=300&h=250&fit=crop"},
			Tags:          []string{"盲文学习", "视障", "教育"},
			Likes:         89,
			CommentsCount: 15,
		},
		{
			Title:   "特殊儿童的营养搭配指南",
			Content: "针对不同特殊需求儿童的营养搭配建议，让孩子健康成长。特殊儿童由于身体条件的特殊性，在营养需求上往往与普通儿童有所不同。",
			Author: models.Author{
				Nickname:  "营养师小李",
				AvatarURL: "https://images.unsplash.com/photo-1559839734-2b71ea197ec2?w=100&h=100&fit=crop&crop=face",
			},
			MediaURLs:     []string{"https://images.unsplash.com/photo-1490645935967-10de6ba17061?w=300&h=180&fit=crop"},
			Tags:          []string{"营养搭配", "健康饮食", "儿童护理"},
			Likes:         156,
			CommentsCount: 31,
		},
		{
			Title:   "如何为自闭症孩子建立日常作息",
			Content: "建立稳定的日常作息对自闭症儿童非常重要，分享我们家的经验。自闭症孩子往往需要规律和可预测的环境来减少焦虑。",
			Author: models.Author{
				Nickname:  "星星妈妈",
				AvatarURL: "https://images.unsplash.com/photo-1438761681033-6461ffad8d80?w=100&h=100&fit=crop&crop=face",
			},
			MediaURLs:     []string{"https://images.unsplash.com/photo-1551698618-1dfe5d97d256?w=300&h=220&fit=crop"},
			Tags:          []string{"作息规律", "自闭症", "行为训练"},
			Likes:         203,
			CommentsCount: 45,
		},
	}
}
